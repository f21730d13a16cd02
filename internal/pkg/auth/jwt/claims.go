package jwt

import "github.com/golang-jwt/jwt"

// Payload defines the structure of the JWT claims for Kwite sessions.
// It carries the opaque verifier identity plus the public handle, which is
// all the server needs to re-load the caller's profile from the store.
type Payload struct {
	// StandardClaims embeds the JWT standard fields such as Exp (Expiration),
	// Iat (Issued At), and Iss (Issuer), used for token validity checks.
	jwt.StandardClaims `json:"standard_claims"`

	// AuthID is the opaque identifier issued by the identity verifier.
	// It keys the owner's private profile document.
	AuthID string `json:"auth_id"`

	// Handle is the folded handle the session was opened for.
	Handle string `json:"handle"`
}
