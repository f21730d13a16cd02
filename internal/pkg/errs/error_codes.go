/*
Package errs provides custom error types and application-level error code constants.

These error codes identify specific business or system errors both internally
within the server and in communication with clients.
*/
package errs

// 1xxx: General Request Handling Errors
const (
	// ErrInvalidParams indicates that request parameter validation failed.
	ErrInvalidParams = 1001

	// ErrUnsupportedMediaType indicates that the request header Content-Type is not supported.
	ErrUnsupportedMediaType = 1002

	// ErrInvalidJSONFormat indicates that the request body JSON format is incorrect.
	ErrInvalidJSONFormat = 1003

	// ErrExtraContentInBody indicates that the request body contained extra content after valid JSON data.
	ErrExtraContentInBody = 1004

	// ErrRateLimitExceeded indicates that the request rate has exceeded the set limit.
	ErrRateLimitExceeded = 1005
)

// 2xxx: Conversation Business Logic Errors
const (
	// ErrEmptyMessageBody indicates a blank or whitespace-only message body.
	ErrEmptyMessageBody = 2101

	// ErrMessageTooLong indicates that the message body exceeded the maximum length limit.
	ErrMessageTooLong = 2102

	// ErrSelfMessage indicates an attempt to send a message to oneself.
	ErrSelfMessage = 2103

	// ErrNoCounterpart indicates that the requested conversation counterpart does not exist.
	ErrNoCounterpart = 2104
)

// 3xxx: Identity, Session, and Security Errors
const (
	// ErrInvalidHandle indicates that the chosen handle is empty or malformed after folding.
	ErrInvalidHandle = 3001

	// ErrWeakSecret indicates that the chosen secret does not meet the minimum length.
	ErrWeakSecret = 3002

	// ErrHandleTaken indicates that the folded handle is already registered.
	ErrHandleTaken = 3003

	// ErrInvalidCredentials indicates that the handle/secret pair could not be verified.
	// Verifier or store outages during identity operations map here as well, so a
	// client cannot distinguish "store down" from "bad password".
	ErrInvalidCredentials = 3004

	// ErrUnauthorized indicates a call without a valid authenticated session.
	ErrUnauthorized = 3005

	// ErrNotAdmin indicates a non-admin caller invoking an admin-only operation.
	ErrNotAdmin = 3006

	// ErrApprovalPending indicates that the account has not been approved yet.
	ErrApprovalPending = 3007

	// ErrUserNotFound indicates that the target handle has no directory entry.
	ErrUserNotFound = 3008

	// ErrAlreadyLoggedIn indicates a register or login attempt with an active session.
	ErrAlreadyLoggedIn = 3009
)

// 5xxx: Internal System Errors
const (
	// ErrUnknown represents an unclassified, general server internal error.
	ErrUnknown = 5000

	// ErrStoreUnavailable indicates that the directory store rejected or dropped a write.
	ErrStoreUnavailable = 5001
)
