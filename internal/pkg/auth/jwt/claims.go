package jwt

import "github.com/golang-jwt/jwt"

// Payload defines the JWT claims issued to a registered user.
// The websocket core trusts the identity a client announces; these tokens
// guard the HTTP API.
type Payload struct {
	// StandardClaims embeds the expiry, issued-at and issuer fields.
	jwt.StandardClaims `json:"standard_claims"`

	// ID is the user identifier stored in the user directory.
	ID string `json:"id"`

	// Username is the display name at the time the token was issued.
	Username string `json:"username"`
}
