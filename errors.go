package cqf

import "github.com/zeebo/errs"

// Code classifies a Filter error the way gqf.h's QF_NO_SPACE/QF_COULDNT_LOCK/
// etc return codes do, so callers can branch on failure kind without string
// matching. Wrapped with github.com/zeebo/errs, the same wrapping library
// zeebo/cascade uses throughout cascade.go, quotient.go and ranksel.go.
type Code int

const (
	// CodeNoSpace means an insert could not find a free slot and
	// auto-resize is disabled or also exhausted.
	CodeNoSpace Code = iota + 1
	// CodeCouldntLock means a TryOnceLock call lost a race for a stripe.
	CodeCouldntLock
	// CodeDoesntExist means the key/value pair a Remove, DeleteKeyValue or
	// GetUniqueIndex call targets is absent from the filter; Query and
	// CountKeyValue report an absent pair as count 0 instead.
	CodeDoesntExist
	// CodeInvalid means a call received nonsensical arguments (bad hash
	// mode, zero slots, a remainder width that doesn't fit the key).
	CodeInvalid
	// CodeIterInvalid classifies use of an exhausted or invalidated
	// iterator. Iterator itself does not return it: Next reports the end
	// by returning false.
	CodeIterInvalid
)

func (c Code) String() string {
	switch c {
	case CodeNoSpace:
		return "no space"
	case CodeCouldntLock:
		return "couldn't lock"
	case CodeDoesntExist:
		return "doesn't exist"
	case CodeInvalid:
		return "invalid"
	case CodeIterInvalid:
		return "iterator invalid"
	default:
		return "unknown"
	}
}

var errClass = errs.Class("cqf")

// codeError pairs a Code with the errs.Class wrapping: CodeOf recovers the
// Code, and Unwrap exposes the errs-wrapped error to errors.Is/As.
type codeError struct {
	code Code
	err  error
}

func (e *codeError) Error() string { return e.err.Error() }
func (e *codeError) Unwrap() error { return e.err }
func (e *codeError) Code() Code    { return e.code }

func newError(code Code, msg string) error {
	return &codeError{code: code, err: errClass.New("%s: %s", code, msg)}
}

func wrapError(code Code, err error) error {
	if err == nil {
		return nil
	}
	return &codeError{code: code, err: errClass.Wrap(err)}
}

// CodeOf extracts the Code from an error returned by this package, or 0 if
// err doesn't carry one.
func CodeOf(err error) Code {
	for err != nil {
		if c, ok := err.(*codeError); ok {
			return c.code
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return 0
}
