package quota

import (
	"errors"
	"fmt"

	"github.com/nhalm/keyquota/store"
)

// Kind classifies an Error.
type Kind string

const (
	KindKeyNotFound       Kind = "key_not_found"
	KindKeyAlreadyExists  Kind = "key_already_exists"
	KindPlanNotFound      Kind = "plan_not_found"
	KindPlanAlreadyExists Kind = "plan_already_exists"
	KindPlanInUse         Kind = "plan_in_use"
	KindInvalidArgument   Kind = "invalid_argument"
	KindMetadataInvalid   Kind = "metadata_invalid"
	KindStoreUnavailable  Kind = "store_unavailable"
)

// Error is the error type returned by every operation in this package.
// Code is a stable machine-readable identifier; Message is human readable.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.err != nil && e.Message == "" {
		return e.err.Error()
	}
	return e.Message
}

// Unwrap returns the underlying cause, if any.
func (e *Error) Unwrap() error {
	return e.err
}

// Is matches by Code when the target carries one, otherwise by Kind.
//
//	errors.Is(err, quota.ErrInvalidArgument)   // any invalid argument
//	errors.Is(err, quota.ErrPlanInvalidLimit) // only a bad limit
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Code != "" {
		return e.Code == t.Code
	}
	return e.Kind == t.Kind
}

// Sentinels for errors.Is. Kind sentinels match every code of that kind.
var (
	ErrKeyNotFound       = &Error{Kind: KindKeyNotFound, Message: "key not found"}
	ErrKeyAlreadyExists  = &Error{Kind: KindKeyAlreadyExists, Message: "key already exists"}
	ErrPlanNotFound      = &Error{Kind: KindPlanNotFound, Message: "plan not found"}
	ErrPlanAlreadyExists = &Error{Kind: KindPlanAlreadyExists, Message: "plan already exists"}
	ErrPlanInUse         = &Error{Kind: KindPlanInUse, Message: "plan in use"}
	ErrInvalidArgument   = &Error{Kind: KindInvalidArgument, Message: "invalid argument"}
	ErrMetadataInvalid   = &Error{Kind: KindMetadataInvalid, Message: "invalid metadata"}
	ErrStoreUnavailable  = &Error{Kind: KindStoreUnavailable, Message: "store unavailable"}

	ErrPlanIDRequired    = &Error{Kind: KindInvalidArgument, Code: "plan_id_required"}
	ErrPlanInvalidID     = &Error{Kind: KindInvalidArgument, Code: "plan_invalid_id"}
	ErrPlanInvalidLimit  = &Error{Kind: KindInvalidArgument, Code: "plan_invalid_limit"}
	ErrPlanInvalidPeriod = &Error{Kind: KindInvalidArgument, Code: "plan_invalid_period"}
	ErrInvalidQuantity   = &Error{Kind: KindInvalidArgument, Code: "invalid_quantity"}
)

func errKeyNotFound(value string) error {
	return &Error{Kind: KindKeyNotFound, Code: "key_not_exist", Message: fmt.Sprintf("The key `%s` does not exist.", value)}
}

func errKeyAlreadyExists(value string) error {
	return &Error{Kind: KindKeyAlreadyExists, Code: "key_already_exist", Message: fmt.Sprintf("The key `%s` already exists.", value)}
}

func errPlanNotFound(id string) error {
	return &Error{Kind: KindPlanNotFound, Code: "plan_not_exist", Message: fmt.Sprintf("The plan `%s` does not exist.", id)}
}

func errPlanAlreadyExists(id string) error {
	return &Error{Kind: KindPlanAlreadyExists, Code: "plan_already_exist", Message: fmt.Sprintf("The plan `%s` already exists.", id)}
}

func errPlanInUse(id, value string) error {
	return &Error{Kind: KindPlanInUse, Code: "key_is_associated", Message: fmt.Sprintf("The plan `%s` is associated with the key `%s`.", id, value)}
}

func errPlanIDRequired() error {
	return &Error{Kind: KindInvalidArgument, Code: ErrPlanIDRequired.Code, Message: "The argument `id` must be a string."}
}

func errPlanInvalidID() error {
	return &Error{Kind: KindInvalidArgument, Code: ErrPlanInvalidID.Code, Message: "The argument `id` cannot contain whitespace."}
}

func errPlanInvalidLimit() error {
	return &Error{Kind: KindInvalidArgument, Code: ErrPlanInvalidLimit.Code, Message: "The argument `limit` must be a positive number."}
}

func errPlanInvalidPeriod(period string) error {
	return &Error{Kind: KindInvalidArgument, Code: ErrPlanInvalidPeriod.Code, Message: fmt.Sprintf("The argument `period` must be a valid duration, got `%s`.", period)}
}

func errInvalidQuantity(q int64) error {
	return &Error{Kind: KindInvalidArgument, Code: ErrInvalidQuantity.Code, Message: fmt.Sprintf("The argument `quantity` must be zero or positive, got %d.", q)}
}

func errMetadataInvalid(field string) error {
	return &Error{Kind: KindMetadataInvalid, Code: "metadata_invalid", Message: fmt.Sprintf("The metadata field '%s' can't be an object.", field)}
}

// storeErr classifies a store failure. Transport failures become
// StoreUnavailable; anything else is returned wrapped as-is.
func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, store.ErrUnavailable) {
		return &Error{Kind: KindStoreUnavailable, Code: "store_unavailable", Message: fmt.Sprintf("%s: store unavailable", op), err: err}
	}
	return fmt.Errorf("%s: %w", op, err)
}
