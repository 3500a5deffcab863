package oauth

import "time"

const (
	// GrantTypePassword is the only grant type the issuer accepts.
	GrantTypePassword = "password"
	// TokenType is reported in every token response.
	TokenType = "Bearer"
	// TokenLength is the length of generated access and refresh tokens.
	TokenLength = 40
	// TokenLifetime is the validity window of an access token.
	TokenLifetime = 5 * time.Minute
)

// Client is a registered consumer of the service.
type Client struct {
	ID           int64
	ClientID     string
	SecretDigest string
	Scope        *string
	CreatedAt    time.Time
}

// User is an account owned by exactly one Client.
type User struct {
	ID             int64
	Username       string
	PasswordDigest string
	FullName       string
	NPM            string
	ClientID       string
	Expires        *string
	CreatedAt      time.Time
}

// Token is an issued access/refresh token pair.
type Token struct {
	ID           int64
	AccessToken  string
	RefreshToken string
	Expiration   time.Time
	UserID       int64
	CreatedAt    time.Time
}

// Valid reports whether the access token may still be used at now.
func (t *Token) Valid(now time.Time) bool {
	return now.Before(t.Expiration)
}

// UserRegistration carries the inputs of a user registration. The client
// credentials gate the registration and are not stored on the user.
type UserRegistration struct {
	Username     string
	Password     string
	FullName     string
	NPM          string
	ClientID     string
	ClientSecret string
	Expires      *string
}

// TokenRequest carries the inputs of a password grant.
type TokenRequest struct {
	GrantType    string
	ClientID     string
	ClientSecret string
	Username     string
	Password     string
}

// TokenResponse is the body returned by a successful grant.
type TokenResponse struct {
	AccessToken  string  `json:"access_token"`
	TokenType    string  `json:"token_type"`
	ExpiresIn    int     `json:"expires_in"`
	RefreshToken string  `json:"refresh_token"`
	Scope        *string `json:"scope"`
}

// UserResource describes the owner of a valid access token.
type UserResource struct {
	UserID       string  `json:"user_id"`
	FullName     string  `json:"full_name"`
	NPM          string  `json:"npm"`
	AccessToken  string  `json:"access_token"`
	RefreshToken string  `json:"refresh_token"`
	Expires      *string `json:"expires"`
	ClientID     string  `json:"client_id"`
}
