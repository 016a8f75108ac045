package domain

import "errors"

// Code is a stable error code carried to clients in error messages.
type Code string

const (
	CodeRoomFull                 Code = "room_full"
	CodeRoomNotFound             Code = "room_not_found"
	CodePeerNotFound             Code = "peer_not_found"
	CodeTransportNotFound        Code = "transport_not_found"
	CodeProducerNotFound         Code = "producer_not_found"
	CodeIncompatibleCapabilities Code = "incompatible_capabilities"
	CodeEngineUnavailable        Code = "engine_unavailable"
	CodeInviteExpired            Code = "invite_expired"
	CodeInviteNotFound           Code = "invite_not_found"
	CodeUnauthorized             Code = "unauthorized"
	CodeBadRequest               Code = "bad_request"
)

// Error pairs a stable code with a human-readable message. Engine-side
// failures and session state machine failures both surface as *Error so
// the gateway can relay the code unchanged.
type Error struct {
	Code    Code
	Message string
}

func (e *Error) Error() string { return string(e.Code) + ": " + e.Message }

// Is matches any *Error carrying the same code, so wrapped errors compare
// equal to the sentinels below under errors.Is.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Code == t.Code
}

var (
	ErrRoomFull                 = &Error{CodeRoomFull, "room is full"}
	ErrRoomNotFound             = &Error{CodeRoomNotFound, "room not found"}
	ErrPeerNotFound             = &Error{CodePeerNotFound, "peer not found"}
	ErrTransportNotFound        = &Error{CodeTransportNotFound, "transport not found"}
	ErrProducerNotFound         = &Error{CodeProducerNotFound, "producer not found"}
	ErrIncompatibleCapabilities = &Error{CodeIncompatibleCapabilities, "receiver cannot consume this producer"}
	ErrEngineUnavailable        = &Error{CodeEngineUnavailable, "media engine unavailable"}
	ErrInviteExpired            = &Error{CodeInviteExpired, "invite expired"}
	ErrInviteNotFound           = &Error{CodeInviteNotFound, "invite not found"}
	ErrUnauthorized             = &Error{CodeUnauthorized, "not allowed"}
	ErrBadRequest               = &Error{CodeBadRequest, "bad request"}
)

// CodeOf extracts the stable code from err, or CodeBadRequest when err is
// not a taxonomy error.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeBadRequest
}
