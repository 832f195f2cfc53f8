package models

import (
	"fmt"
	"time"
)

// Credential is the OAuth token pair held for the single logged-in user.
//
// The refresh token has no expiry in this model; the access token expires
// ExpiresInSeconds after IssuedAt.
type Credential struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	IssuedAt         time.Time `json:"issued_at"`
	ExpiresInSeconds int64     `json:"expires_in"`
}

// ExpiresAt returns IssuedAt + ExpiresInSeconds.
func (c Credential) ExpiresAt() time.Time {
	return c.IssuedAt.Add(time.Duration(c.ExpiresInSeconds) * time.Second)
}

// Validate checks that the credential can be used for a request.
func (c Credential) Validate() error {
	if c.AccessToken == "" {
		return fmt.Errorf("credential: access token is required")
	}
	if c.ExpiresInSeconds < 0 {
		return fmt.Errorf("credential: expires_in must not be negative")
	}
	return nil
}
