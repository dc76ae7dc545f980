package ledger

import "errors"

// Error is one of the eight business rejections. Each is a deterministic
// refusal of a single violated precondition; none are transient.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string { return e.Message }

// Business rejections. Compare with errors.Is.
var (
	ErrUnauthorizedKeyUpdate     = &Error{Code: "UnauthorizedKeyUpdate", Message: "unauthorized key update attempt"}
	ErrUnauthorizedKeyRevoke     = &Error{Code: "UnauthorizedKeyRevoke", Message: "unauthorized key revoke attempt"}
	ErrCidTooLong                = &Error{Code: "CidTooLong", Message: "CID exceeds maximum length of 100 characters"}
	ErrInvalidTTL                = &Error{Code: "InvalidTTL", Message: "TTL must be between 1 and 2,592,000 seconds (30 days)"}
	ErrRecipientKeyRevoked       = &Error{Code: "RecipientKeyRevoked", Message: "recipient's messaging key has been revoked"}
	ErrKeyAlreadyRevoked         = &Error{Code: "KeyAlreadyRevoked", Message: "key has already been revoked"}
	ErrInvalidRecipient          = &Error{Code: "InvalidRecipient", Message: "invalid recipient"}
	ErrUnauthorizedMessageAccess = &Error{Code: "UnauthorizedMessageAccess", Message: "unauthorized message access"}
)

// Host and store rejections. These sit outside the closed business set.
var (
	ErrRecordNotFound    = errors.New("record not found")
	ErrAddressInUse      = errors.New("address already initialized")
	ErrSignerNotVerified = errors.New("signer not verified")
	ErrUndeclaredAddress = errors.New("address not declared by request")
	ErrCorruptRecord     = errors.New("corrupt record")
)

// Code returns the business code carried by err, or "" if err is not one of
// the eight rejections.
func Code(err error) string {
	var le *Error
	if errors.As(err, &le) {
		return le.Code
	}
	return ""
}
