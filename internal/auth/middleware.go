package auth

import (
	"errors"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
)

// ContextKeyCaller is the key for storing the authenticated caller in gin context
const ContextKeyCaller = "caller"

// Middleware authenticates requests that carry caller headers. Requests
// without any caller header pass through anonymously; requests with a bad
// signature are rejected.
func Middleware(v *Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		addr := c.GetHeader(HeaderAddress)
		ts := c.GetHeader(HeaderTimestamp)
		sig := c.GetHeader(HeaderSignature)
		if addr == "" && ts == "" && sig == "" {
			c.Next()
			return
		}

		caller, err := v.Authenticate(c.Request.Method, c.Request.URL.Path, addr, ts, sig)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   errorCode(err),
				"message": err.Error(),
			})
			return
		}
		c.Set(ContextKeyCaller, caller)
		c.Next()
	}
}

// RequireCaller rejects requests without an authenticated caller.
func RequireCaller() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := Caller(c); !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "Signed caller headers required: " + HeaderAddress + ", " + HeaderTimestamp + ", " + HeaderSignature,
			})
			return
		}
		c.Next()
	}
}

// Caller returns the authenticated caller, if any.
func Caller(c *gin.Context) (common.Address, bool) {
	v, exists := c.Get(ContextKeyCaller)
	if !exists {
		return common.Address{}, false
	}
	addr, ok := v.(common.Address)
	return addr, ok
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, ErrStaleTimestamp):
		return "stale_signature"
	case errors.Is(err, ErrReplayed):
		return "replayed_signature"
	case errors.Is(err, ErrMissingHeaders):
		return "unauthorized"
	default:
		return "invalid_signature"
	}
}
