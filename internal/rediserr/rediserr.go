// Package rediserr defines the error taxonomy the command engine maps onto
// RESP error replies (spec.md §7). An error may wrap an underlying cause
// (IO errors do), so call sites can still errors.Is/errors.As through to it.
package rediserr

import "fmt"

// Kind classifies an error for the purpose of deciding the RESP reply and
// whether the connection survives it.
type Kind int

const (
	// KindProtocol is a malformed RESP frame. The connection is closed only
	// if the decoder is desynchronized; otherwise it stays open.
	KindProtocol Kind = iota
	KindUnknownCommand
	KindWrongArity
	KindSyntax
	// KindIO terminates the connection task (or, on a replica's master
	// link, returns it to Disconnected).
	KindIO
	// KindCorruptSnapshot is fatal at boot.
	KindCorruptSnapshot
	// KindInternal signals an invariant violation and replies "ERR internal".
	// The listener does not close the connection after such a reply.
	KindInternal
)

// Error is a classified error carrying a human-readable detail string and,
// optionally, a wrapped cause.
type Error struct {
	Kind   Kind
	Detail string
	Cause  error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Detail, e.Cause)
	}
	return e.Detail
}

func (e *Error) Unwrap() error { return e.Cause }

func newErr(kind Kind, detail string, cause error) *Error {
	return &Error{Kind: kind, Detail: detail, Cause: cause}
}

func Protocol(detail string) *Error            { return newErr(KindProtocol, detail, nil) }
func UnknownCommand(name string) *Error        { return newErr(KindUnknownCommand, fmt.Sprintf("unknown command '%s'", name), nil) }
func WrongArity(detail string) *Error          { return newErr(KindWrongArity, detail, nil) }
func Syntax(detail string) *Error              { return newErr(KindSyntax, detail, nil) }
func IO(detail string, cause error) *Error     { return newErr(KindIO, detail, cause) }
func CorruptSnapshot(offset int, reason string) *Error {
	return newErr(KindCorruptSnapshot, fmt.Sprintf("corrupt snapshot at offset %d: %s", offset, reason), nil)
}
func Internal(detail string) *Error { return newErr(KindInternal, detail, nil) }

// RESPMessage returns the text that belongs after the leading '-' of a RESP
// error reply for this error.
func (e *Error) RESPMessage() string {
	switch e.Kind {
	case KindProtocol:
		return "ERR Protocol error: " + e.Detail
	case KindUnknownCommand:
		return "ERR " + e.Detail
	case KindWrongArity, KindSyntax:
		return "ERR " + e.Detail
	case KindInternal:
		return "ERR internal"
	default:
		return "ERR " + e.Detail
	}
}
