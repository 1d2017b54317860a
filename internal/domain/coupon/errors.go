package coupon

import (
	"fmt"

	"github.com/go-faster/errors"
)

// Code is a machine-readable reason a coupon or cart was rejected.
type Code string

const (
	CodeNotFound              Code = "NOT_FOUND"
	CodeInactive              Code = "INACTIVE"
	CodeExpired               Code = "EXPIRED"
	CodeNotYetValid           Code = "NOT_YET_VALID"
	CodeUsageLimitReached     Code = "USAGE_LIMIT_REACHED"
	CodeUserLimitReached      Code = "USER_LIMIT_REACHED"
	CodeMinOrderNotMet        Code = "MIN_ORDER_NOT_MET"
	CodeMinItemsNotMet        Code = "MIN_ITEMS_NOT_MET"
	CodeCategoryExcluded      Code = "CATEGORY_EXCLUDED"
	CodeCategoryNotApplicable Code = "CATEGORY_NOT_APPLICABLE"
	CodeNotFirstTimeUser      Code = "NOT_FIRST_TIME_USER"
	CodeUserRequired          Code = "USER_REQUIRED"
)

// ValidationError reports why a coupon cannot be applied. It is recoverable by
// the user: they fix the cart or pick another coupon.
type ValidationError struct {
	Code    Code
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is matches any ValidationError carrying the same code, so callers can use
// errors.Is(err, coupon.ErrExpired) against a rejection with a custom message.
func (e *ValidationError) Is(target error) bool {
	t, ok := target.(*ValidationError)
	return ok && t.Code == e.Code
}

func reject(code Code, format string, args ...any) *ValidationError {
	return &ValidationError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Sentinels for errors.Is matching.
var (
	ErrNotFound              = &ValidationError{Code: CodeNotFound, Message: "coupon not found"}
	ErrInactive              = &ValidationError{Code: CodeInactive, Message: "coupon is not active"}
	ErrExpired               = &ValidationError{Code: CodeExpired, Message: "coupon has expired"}
	ErrNotYetValid           = &ValidationError{Code: CodeNotYetValid, Message: "coupon is not valid yet"}
	ErrUsageLimitReached     = &ValidationError{Code: CodeUsageLimitReached, Message: "coupon usage limit reached"}
	ErrUserLimitReached      = &ValidationError{Code: CodeUserLimitReached, Message: "coupon already used the maximum number of times"}
	ErrMinOrderNotMet        = &ValidationError{Code: CodeMinOrderNotMet, Message: "minimum order amount not met"}
	ErrMinItemsNotMet        = &ValidationError{Code: CodeMinItemsNotMet, Message: "minimum number of items not met"}
	ErrCategoryExcluded      = &ValidationError{Code: CodeCategoryExcluded, Message: "cart contains excluded categories"}
	ErrCategoryNotApplicable = &ValidationError{Code: CodeCategoryNotApplicable, Message: "coupon does not apply to any item in the cart"}
	ErrNotFirstTimeUser      = &ValidationError{Code: CodeNotFirstTimeUser, Message: "coupon is for first orders only"}
	ErrUserRequired          = &ValidationError{Code: CodeUserRequired, Message: "sign in to use this coupon"}
)

// ReasonOf extracts the rejection code from err, or "" if err is not a
// ValidationError.
func ReasonOf(err error) Code {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Code
	}
	return ""
}
