/*
Package errs provides custom error types and application-level error code constants.

These error codes identify specific business or system errors both internally within
the server and in communication with clients, over HTTP and over the websocket.
*/
package errs

// 1xxx: General Request Handling Errors
const (
	// ErrInvalidParams indicates that request parameter validation failed.
	ErrInvalidParams = 1001

	// ErrUnsupportedMediaType indicates that the request header Content-Type is not supported.
	ErrUnsupportedMediaType = 1002

	// ErrInvalidJSONFormat indicates that the request body JSON format is incorrect (e.g., syntax error).
	ErrInvalidJSONFormat = 1003

	// ErrExtraContentInBody indicates that the request body contained extra content after valid JSON data.
	ErrExtraContentInBody = 1004

	// ErrRateLimitExceeded indicates that the request rate has exceeded the set limit.
	ErrRateLimitExceeded = 1007
)

// 2xxx: Realtime Messaging Errors
const (
	// ErrMalformedFrame indicates that a websocket frame could not be decoded.
	ErrMalformedFrame = 2001

	// ErrUnsupportedEvent indicates that a websocket frame carried an unknown event type.
	ErrUnsupportedEvent = 2002

	// ErrNotAuthenticated indicates an event that requires an authenticated connection.
	ErrNotAuthenticated = 2003

	// ErrMessageContentTooLong indicates that the message content exceeded the maximum length limit.
	ErrMessageContentTooLong = 2004

	// ErrMessageContentEmpty indicates that the message content was empty.
	ErrMessageContentEmpty = 2005

	// ErrRecipientRequired indicates that a private message or typing event named no recipient.
	ErrRecipientRequired = 2006

	// ErrMessageNotStored indicates that the message could not be persisted and was not delivered.
	ErrMessageNotStored = 2007

	// ErrIdentityRequired indicates an auth event without a user id or username.
	ErrIdentityRequired = 2008
)

// 3xxx: User Account and Security Errors
const (
	// ErrInvalidUsername indicates a missing or malformed username.
	ErrInvalidUsername = 3001

	// ErrInvalidEmail indicates a malformed email address.
	ErrInvalidEmail = 3002

	// ErrInvalidPassword indicates a password outside the accepted length.
	ErrInvalidPassword = 3003

	// ErrEmailAlreadyUsed indicates that the email is already registered.
	ErrEmailAlreadyUsed = 3004

	// ErrInvalidCredentials indicates a failed login.
	ErrInvalidCredentials = 3005

	// ErrUnauthorized indicates a missing or invalid identity token.
	ErrUnauthorized = 3006
)

// 5xxx: Internal System Errors
const (
	// ErrUnknown represents an unclassified, general server internal error.
	ErrUnknown = 5000

	// ErrStoreUnavailable indicates that the backing store failed.
	ErrStoreUnavailable = 5001
)
