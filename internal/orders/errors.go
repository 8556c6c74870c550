package orders

import (
	"errors"
	"fmt"
	"strings"
)

// Kind is the closed set of failure categories surfaced to callers.
type Kind string

const (
	KindNotFound          Kind = "NotFound"
	KindValidation        Kind = "ValidationError"
	KindIllegalFieldWrite Kind = "IllegalFieldWrite"
	KindConflict          Kind = "Conflict"
	KindInternal          Kind = "Internal"
)

// Entity names used in errors.
const (
	EntityCustomer = "customer"
	EntityOrder    = "order"
	EntityItem     = "item"
)

// Error is returned by the Store and Service for every failure.
type Error struct {
	Kind    Kind
	Op      string
	Entity  string
	ID      int64
	Field   string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(e.Message)
	if e.Cause != nil && e.Kind == KindInternal {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	fmt.Fprintf(&b, " (%s)", e.Kind)
	return b.String()
}

func (e *Error) Unwrap() error { return e.Cause }

// KindOf returns the kind carried by err, or "" if err is not an *Error.
func KindOf(err error) Kind {
	var oe *Error
	if !errors.As(err, &oe) {
		return ""
	}
	return oe.Kind
}

func IsKind(err error, k Kind) bool {
	return err != nil && KindOf(err) == k
}

func NotFound(entity string, id int64) error {
	return &Error{
		Kind:    KindNotFound,
		Entity:  entity,
		ID:      id,
		Message: fmt.Sprintf("no %s found with id %d", entity, id),
	}
}

func Validation(field, format string, args ...any) error {
	return &Error{
		Kind:    KindValidation,
		Field:   field,
		Message: fmt.Sprintf(format, args...),
	}
}

func IllegalFieldWrite(entity, field, reason string) error {
	return &Error{
		Kind:    KindIllegalFieldWrite,
		Entity:  entity,
		Field:   field,
		Message: fmt.Sprintf("field %q on %s %s", field, entity, reason),
	}
}

func Conflict(message string, cause error) error {
	return &Error{Kind: KindConflict, Message: message, Cause: cause}
}

func Internal(message string, cause error) error {
	return &Error{Kind: KindInternal, Message: message, Cause: cause}
}

// withOp stamps the operation name on err, wrapping anything that is not
// already an *Error as Internal.
func withOp(op string, err error) error {
	if err == nil {
		return nil
	}
	var oe *Error
	if errors.As(err, &oe) {
		if oe.Op == "" {
			cp := *oe
			cp.Op = op
			return &cp
		}
		return err
	}
	e := Internal("unexpected storage failure", err).(*Error)
	e.Op = op
	return e
}
