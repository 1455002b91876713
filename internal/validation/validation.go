// Package validation checks request fields before they reach the protocol.
//
// Handlers compose field rules:
//
//	errs := validation.Check(
//		validation.Required("coverAmount", req.CoverAmount),
//		validation.Wei("coverAmount", req.CoverAmount),
//	)
//
// Each rule reports at most one FieldError. Optional fields pass when empty;
// pair them with Required where the field is mandatory.
package validation

import (
	"fmt"
	"math/big"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
)

// MaxRequestSize bounds a request body.
const MaxRequestSize = 64 << 10

// MaxDescriptionBytes bounds a position description: 256 packed addresses.
const MaxDescriptionBytes = common.AddressLength * 256

var (
	addressPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)
	bytesPattern   = regexp.MustCompile(`^0x(?:[0-9a-fA-F]{2})*$`)
	decimalPattern = regexp.MustCompile(`^(?:0|[1-9][0-9]{0,77})$`)

	maxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
)

// FieldError describes one rejected field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e FieldError) Error() string { return e.Field + ": " + e.Message }

// Errors is the set of rejected fields of one request.
type Errors []FieldError

// Error reports the first rejected field.
func (e Errors) Error() string {
	if len(e) == 0 {
		return "validation failed"
	}
	return e[0].Error()
}

// Rule checks one field.
type Rule func() *FieldError

// Check runs every rule and collects the failures.
func Check(rules ...Rule) Errors {
	var errs Errors
	for _, rule := range rules {
		if fe := rule(); fe != nil {
			errs = append(errs, *fe)
		}
	}
	return errs
}

func fail(field, format string, args ...any) *FieldError {
	return &FieldError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// IsAddress reports whether s is a 0x-prefixed 20-byte address. Mixed-case
// input must carry a valid EIP-55 checksum.
func IsAddress(s string) bool {
	if !addressPattern.MatchString(s) {
		return false
	}
	body := s[2:]
	if body == strings.ToLower(body) || body == strings.ToUpper(body) {
		return true
	}
	return common.HexToAddress(s).Hex() == s
}

// IsBytes reports whether s is 0x-prefixed hex of whole bytes.
func IsBytes(s string) bool {
	return bytesPattern.MatchString(s)
}

// ParseWei parses a canonical base-10 uint256: no sign, no leading zeros.
func ParseWei(s string) (*big.Int, bool) {
	if !decimalPattern.MatchString(s) {
		return nil, false
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok || v.Cmp(maxUint256) > 0 {
		return nil, false
	}
	return v, true
}

// Required rejects blank values.
func Required(field, value string) Rule {
	return func() *FieldError {
		if strings.TrimSpace(value) == "" {
			return fail(field, "is required")
		}
		return nil
	}
}

// Address rejects values that are not addresses.
func Address(field, value string) Rule {
	return func() *FieldError {
		if value != "" && !IsAddress(value) {
			return fail(field, "must be a 0x-prefixed 20-byte address with a valid checksum")
		}
		return nil
	}
}

// Wei rejects values that are not uint256 amounts.
func Wei(field, value string) Rule {
	return func() *FieldError {
		if value == "" {
			return nil
		}
		if _, ok := ParseWei(value); !ok {
			return fail(field, "must be a base-10 integer amount in wei")
		}
		return nil
	}
}

// Bytes rejects values that are not hex byte strings of at most maxBytes
// bytes. maxBytes <= 0 leaves the length unbounded.
func Bytes(field, value string, maxBytes int) Rule {
	return func() *FieldError {
		if value == "" {
			return nil
		}
		if !IsBytes(value) {
			return fail(field, "must be 0x-prefixed hex")
		}
		if n := (len(value) - 2) / 2; maxBytes > 0 && n > maxBytes {
			return fail(field, "is %d bytes, at most %d allowed", n, maxBytes)
		}
		return nil
	}
}

// Positive rejects zero.
func Positive(field string, value uint64) Rule {
	return func() *FieldError {
		if value == 0 {
			return fail(field, "must be greater than zero")
		}
		return nil
	}
}

// RequestSizeMiddleware caps the request body at maxSize bytes.
func RequestSizeMiddleware(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		c.Next()
	}
}

// ParamMiddleware rejects malformed :address and :id path params before
// routing reaches a handler. Routes without those params pass through.
func ParamMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if addr := c.Param("address"); addr != "" && !IsAddress(addr) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_address",
				"message": "address must be a 0x-prefixed 20-byte address with a valid checksum",
			})
			return
		}
		if id := c.Param("id"); id != "" {
			if n, err := strconv.ParseUint(id, 10, 64); err != nil || n == 0 {
				c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
					"error":   "invalid_id",
					"message": "id must be a positive integer",
				})
				return
			}
		}
		c.Next()
	}
}
