package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/solace-fi/coverage/internal/claims"
	"github.com/solace-fi/coverage/internal/governance"
	"github.com/solace-fi/coverage/internal/ledger"
	"github.com/solace-fi/coverage/internal/logging"
	"github.com/solace-fi/coverage/internal/pagination"
	"github.com/solace-fi/coverage/internal/policy"
	"github.com/solace-fi/coverage/internal/product"
	"github.com/solace-fi/coverage/internal/protocol"
	"github.com/solace-fi/coverage/internal/risk"
	"github.com/solace-fi/coverage/internal/vault"
	"github.com/solace-fi/coverage/internal/voucher"
)

type errorClass struct {
	status int
	code   string
	errs   []error
}

// errorClasses maps component errors to responses. The first class with a
// matching error wins; anything unmatched is an internal error.
var errorClasses = []errorClass{
	{http.StatusNotFound, "not_found", []error{
		protocol.ErrUnknownProduct,
		protocol.ErrUnknownComponent,
		policy.ErrNonexistentPolicy,
		claims.ErrClaimNotFound,
		risk.ErrUnknownStrategy,
	}},
	{http.StatusForbidden, "forbidden", []error{
		governance.ErrNotGovernance,
		governance.ErrNotPendingGovernance,
		policy.ErrNotPolicyholder,
		claims.ErrNotClaimant,
		claims.ErrNotVault,
		product.ErrNotRequestor,
		vault.ErrNotRequestor,
		vault.ErrNotEscrow,
	}},
	{http.StatusConflict, "conflict", []error{
		product.ErrPaused,
		product.ErrInsufficientCapacity,
		product.ErrCannotAcceptRisk,
		product.ErrPolicyExpired,
		policy.ErrProductInactive,
		risk.ErrProductInactive,
		risk.ErrStrategyInactive,
		risk.ErrStrategyExists,
		claims.ErrClaimExists,
		claims.ErrCooldownNotElapsed,
		claims.ErrInsufficientFunds,
		vault.ErrInsufficientCapital,
		vault.ErrInsufficientShares,
		vault.ErrEscrowNotSet,
		ledger.ErrInsufficientBalance,
	}},
	{http.StatusBadRequest, "invalid_request", []error{
		product.ErrZeroCover,
		product.ErrPeriodTooShort,
		product.ErrPeriodTooLong,
		product.ErrInvalidPeriod,
		product.ErrInvalidDescription,
		product.ErrIncorrectPayment,
		product.ErrExcessiveAmountOut,
		product.ErrExpiredDeadline,
		product.ErrZeroSigner,
		product.ErrZeroAsset,
		policy.ErrWrongProduct,
		policy.ErrZeroHolder,
		policy.ErrZeroProduct,
		policy.ErrInvalidCover,
		voucher.ErrInvalidSignature,
		claims.ErrInvalidAmount,
		claims.ErrInvalidCooldown,
		claims.ErrZeroClaimant,
		vault.ErrZeroAmount,
		ledger.ErrInvalidAmount,
		ledger.ErrZeroRecipient,
		governance.ErrZeroGovernance,
		risk.ErrZeroAddressProduct,
		risk.ErrZeroAddressStrategy,
		risk.ErrLengthMismatch,
		risk.ErrDuplicateProduct,
		risk.ErrInvalidWeight,
		risk.ErrWeightOverflow,
		risk.ErrInvalidPrice,
		risk.ErrInvalidDivisor,
		risk.ErrInvalidWeightAllocation,
		risk.ErrInvalidFactor,
		pagination.ErrInvalidCursor,
	}},
	{http.StatusServiceUnavailable, "unavailable", []error{
		context.DeadlineExceeded,
		context.Canceled,
	}},
}

// statusFor returns the HTTP status and error code for err.
func statusFor(err error) (int, string) {
	for _, class := range errorClasses {
		for _, target := range class.errs {
			if errors.Is(err, target) {
				return class.status, class.code
			}
		}
	}
	return http.StatusInternalServerError, "internal_error"
}

// respondError writes err as a JSON error response. Internal errors are
// logged and their text withheld.
func respondError(c *gin.Context, err error) {
	status, code := statusFor(err)
	if status == http.StatusInternalServerError {
		logging.L(c.Request.Context()).Error("request failed", "path", c.Request.URL.Path, "error", err)
		c.JSON(status, gin.H{"error": code, "message": "An unexpected error occurred"})
		return
	}
	c.JSON(status, gin.H{"error": code, "message": err.Error()})
}
