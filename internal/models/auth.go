// internal/models/auth.go
package models

import "time"

// AuthToken is returned by register and login.
type AuthToken struct {
	AccessToken string    `json:"accessToken"`
	TokenType   string    `json:"tokenType"`
	ExpiresIn   int64     `json:"expiresIn"`
	ExpiresAt   time.Time `json:"expiresAt"`
	User        *User     `json:"user"`
}

type PasswordStrength struct {
	Score    int      `json:"score"`
	Valid    bool     `json:"valid"`
	Feedback []string `json:"feedback"`
}
