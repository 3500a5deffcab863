package oauth

import (
	"errors"
	"net/http"
)

// Kind identifies one variant of the closed error set.
type Kind int

const (
	KindDuplicateClient Kind = iota + 1
	KindDuplicateUser
	KindDuplicateNPM
	KindUnsupportedGrantType
	KindUnknownClient
	KindInvalidClientSecret
	KindUnknownUser
	KindInvalidPassword
	KindInvalidToken
	KindTokenExpired
	KindUserNotFound
)

var kindNames = map[Kind]string{
	KindDuplicateClient:      "DuplicateClient",
	KindDuplicateUser:        "DuplicateUser",
	KindDuplicateNPM:         "DuplicateNPM",
	KindUnsupportedGrantType: "UnsupportedGrantType",
	KindUnknownClient:        "UnknownClient",
	KindInvalidClientSecret:  "InvalidClientSecret",
	KindUnknownUser:          "UnknownUser",
	KindInvalidPassword:      "InvalidPassword",
	KindInvalidToken:         "InvalidToken",
	KindTokenExpired:         "TokenExpired",
	KindUserNotFound:         "UserNotFound",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "Unknown"
}

// Error is a domain failure. Status, Category and Description are transported
// to the caller verbatim.
type Error struct {
	Kind        Kind
	Status      int
	Category    string
	Description string
}

func (e *Error) Error() string {
	return e.Category + ": " + e.Description
}

// Is matches any *Error of the same Kind.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

var (
	ErrDuplicateClient = &Error{KindDuplicateClient, http.StatusBadRequest, "invalid_request", "Client ID already registered"}
	ErrDuplicateUser   = &Error{KindDuplicateUser, http.StatusBadRequest, "invalid_request", "Username already registered"}
	ErrDuplicateNPM    = &Error{KindDuplicateNPM, http.StatusBadRequest, "invalid_request", "NPM already registered"}

	ErrUnsupportedGrantType = &Error{KindUnsupportedGrantType, http.StatusBadRequest, "unsupported_grant_type", "Only the password grant type is supported"}

	ErrUnknownClient       = &Error{KindUnknownClient, http.StatusBadRequest, "invalid_client", "Client not found"}
	ErrInvalidClientSecret = &Error{KindInvalidClientSecret, http.StatusBadRequest, "invalid_client", "Invalid client secret"}
	ErrUnknownUser         = &Error{KindUnknownUser, http.StatusBadRequest, "invalid_grant", "User not found"}
	ErrInvalidPassword     = &Error{KindInvalidPassword, http.StatusBadRequest, "invalid_grant", "Invalid password"}

	// Protected resource failures use 401.
	ErrInvalidToken = &Error{KindInvalidToken, http.StatusUnauthorized, "invalid_token", "Invalid access token"}
	ErrTokenExpired = &Error{KindTokenExpired, http.StatusUnauthorized, "invalid_token", "Access token expired"}
	ErrUserNotFound = &Error{KindUserNotFound, http.StatusUnauthorized, "invalid_token", "Token owner not found"}
)

// AsError extracts the domain error from err, if any.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
