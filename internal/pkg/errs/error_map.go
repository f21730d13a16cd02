/*
Package errs provides custom error types and application-level error code constants.

This file defines the map from error codes to the CustomError struct, used to
standardize HTTP responses and internal error handling.
*/
package errs

import "net/http"

// errorMap stores the detailed CustomError struct corresponding to every application error code.
// The key is the error code (int), and the value contains the user message and HTTP status code.
var errorMap = map[int]CustomError{
	// 1xxx: General Request Handling Errors
	ErrInvalidParams:        {Code: ErrInvalidParams, Message: "Invalid request parameters.", Status: http.StatusBadRequest},
	ErrUnsupportedMediaType: {Code: ErrUnsupportedMediaType, Message: "Unsupported request format.", Status: http.StatusUnsupportedMediaType},
	ErrInvalidJSONFormat:    {Code: ErrInvalidJSONFormat, Message: "Unsupported request format.", Status: http.StatusBadRequest},
	ErrExtraContentInBody:   {Code: ErrExtraContentInBody, Message: "Request contains unexpected data.", Status: http.StatusBadRequest},
	ErrRateLimitExceeded:    {Code: ErrRateLimitExceeded, Message: "Too many requests. Please try again later.", Status: http.StatusTooManyRequests},

	// 2xxx: Conversation Business Logic Errors
	ErrEmptyMessageBody: {Code: ErrEmptyMessageBody, Message: "Message cannot be empty."},
	ErrMessageTooLong:   {Code: ErrMessageTooLong, Message: "Message is too long."},
	ErrSelfMessage:      {Code: ErrSelfMessage, Message: "You cannot message yourself."},
	ErrNoCounterpart:    {Code: ErrNoCounterpart, Message: "Conversation partner not found."},

	// 3xxx: Identity, Session, and Security Errors
	ErrInvalidHandle:      {Code: ErrInvalidHandle, Message: "Invalid username."},
	ErrWeakSecret:         {Code: ErrWeakSecret, Message: "Password must be at least 6 characters."},
	ErrHandleTaken:        {Code: ErrHandleTaken, Message: "Username is already taken.", Status: http.StatusConflict},
	ErrInvalidCredentials: {Code: ErrInvalidCredentials, Message: "Incorrect username or password."},
	ErrUnauthorized:       {Code: ErrUnauthorized, Message: "Please sign in to continue.", Status: http.StatusUnauthorized},
	ErrNotAdmin:           {Code: ErrNotAdmin, Message: "Administrator access required.", Status: http.StatusForbidden},
	ErrApprovalPending:    {Code: ErrApprovalPending, Message: "Your account is awaiting approval.", Status: http.StatusForbidden},
	ErrUserNotFound:       {Code: ErrUserNotFound, Message: "Account not found.", Status: http.StatusNotFound},
	ErrAlreadyLoggedIn:    {Code: ErrAlreadyLoggedIn, Message: "You are already signed in.", Status: http.StatusConflict},

	// 5xxx: Internal System Errors
	ErrUnknown:          {Code: ErrUnknown, Message: "Something went wrong. Please try again.", Status: http.StatusInternalServerError},
	ErrStoreUnavailable: {Code: ErrStoreUnavailable, Message: "Something went wrong. Please try again.", Status: http.StatusInternalServerError},
}
