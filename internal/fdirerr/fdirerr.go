// Package fdirerr defines the sentinel errors carried across the
// dentry tree, inode index, binlog and replication layers. Each error
// wraps a stable numeric code so that the wire codec (internal/wire)
// can pack it into a header's status field without string matching.
package fdirerr

import "fmt"

// Code is a POSIX-errno-like status code. Negative convention matches
// the wire protocol's "negated" values before being made non-negative
// on the wire (see internal/wire).
type Code int

// Status codes. Values track common POSIX errno numbers where one
// exists; StatusMasterInconsistent is outside the errno range.
const (
	EINVAL    Code = 22
	ENOENT    Code = 2
	EEXIST    Code = 17
	ENOTEMPTY Code = 39
	EOVERFLOW Code = 75
	EAGAIN    Code = 11
	ENOLCK    Code = 37
	ENOMEM    Code = 12
	EBUSY     Code = 16
	EINPROGRESS Code = 115
	ETIMEDOUT Code = 110

	// StatusMasterInconsistent is returned to a slave or client that
	// joined while a different candidate master is being elected.
	StatusMasterInconsistent Code = 9999
)

var names = map[Code]string{
	EINVAL:                   "EINVAL",
	ENOENT:                   "ENOENT",
	EEXIST:                   "EEXIST",
	ENOTEMPTY:                "ENOTEMPTY",
	EOVERFLOW:                "EOVERFLOW",
	EAGAIN:                   "EAGAIN",
	ENOLCK:                   "ENOLCK",
	ENOMEM:                   "ENOMEM",
	EBUSY:                    "EBUSY",
	EINPROGRESS:              "EINPROGRESS",
	ETIMEDOUT:                "ETIMEDOUT",
	StatusMasterInconsistent: "MASTER_INCONSISTENT",
}

func (c Code) String() string {
	if n, ok := names[c]; ok {
		return n
	}
	return fmt.Sprintf("errno(%d)", int(c))
}

// Error is an error carrying a Code and an optional human message.
type Error struct {
	Code Code
	Msg  string
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return e.Code.String()
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

// New builds an *Error with code and message.
func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...)}
}

// CodeOf extracts the Code carried by err, or EINVAL if err does not
// carry one (a defensive default so the wire layer never sends a
// zero/success status for a non-nil error).
func CodeOf(err error) Code {
	if err == nil {
		return 0
	}
	var fe *Error
	if as, ok := err.(*Error); ok {
		fe = as
	} else if errAs(err, &fe) {
		// already set
	} else {
		return EINVAL
	}
	return fe.Code
}

func errAs(err error, target **Error) bool {
	type wrapper interface{ Unwrap() error }
	for err != nil {
		if fe, ok := err.(*Error); ok {
			*target = fe
			return true
		}
		w, ok := err.(wrapper)
		if !ok {
			return false
		}
		err = w.Unwrap()
	}
	return false
}

// Is reports whether err carries code.
func Is(err error, code Code) bool {
	return CodeOf(err) == code
}

var (
	ErrNotMaster = New(EINVAL, "I am not master")
	ErrBusy      = New(EBUSY, "system busy")
)
