// Package oauth implements the password-grant credential engine: client and
// user registration, client and user authentication, bearer token issuance
// and bearer token resolution.
//
// Every check runs in a fixed order and the first failure wins. Client
// authentication always gates user checks, so a caller never learns whether
// a username exists without presenting valid client credentials first.
// Failures are returned as one of the *Error sentinels declared in errors.go;
// anything else is an infrastructure failure.
package oauth
