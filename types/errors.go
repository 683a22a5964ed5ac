package types

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a domain error for transport mapping.
type ErrorKind string

const (
	KindNotFound          ErrorKind = "not_found"
	KindRPCError          ErrorKind = "rpc_error"
	KindInsufficientFunds ErrorKind = "insufficient_funds"
	KindInvalidAddress    ErrorKind = "invalid_address"
	KindAlreadyTerminal   ErrorKind = "already_terminal"
	KindAuthRequired      ErrorKind = "authentication_required"
	KindForbidden         ErrorKind = "forbidden"
	KindInvalidState      ErrorKind = "invalid_state"
	KindInviteToken       ErrorKind = "invite_token"
)

// Error is the single domain error type. Kind drives the HTTP status mapping;
// Message is safe to surface to callers.
type Error struct {
	Kind    ErrorKind
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// KindOf extracts the ErrorKind from err, or "" when err is not a domain error.
func KindOf(err error) ErrorKind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return ""
}

func NewError(kind ErrorKind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func ErrEscrowNotFound(id string) *Error {
	return NewError(KindNotFound, "escrow %s not found", id)
}

func ErrRPC(err error) *Error {
	return NewError(KindRPCError, "ledger rpc error: %v", err)
}

func ErrInsufficientFunds(address string, balance, required uint64) *Error {
	return NewError(KindInsufficientFunds,
		"insufficient funds in %s: has %d lamports, needs %d", address, balance, required)
}

func ErrInvalidAddress(address string) *Error {
	return NewError(KindInvalidAddress, "invalid address: %s", address)
}

func ErrAlreadyTerminal(id string, status Status) *Error {
	return NewError(KindAlreadyTerminal, "escrow %s is already %s", id, status)
}

func ErrAuthRequired() *Error {
	return NewError(KindAuthRequired, "authentication required")
}

func ErrForbidden(format string, args ...interface{}) *Error {
	return NewError(KindForbidden, format, args...)
}

func ErrInvalidState(format string, args ...interface{}) *Error {
	return NewError(KindInvalidState, format, args...)
}

func ErrInviteToken(format string, args ...interface{}) *Error {
	return NewError(KindInviteToken, format, args...)
}
