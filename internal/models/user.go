// internal/models/user.go
package models

import "time"

type Role string

const (
	RoleHirer  Role = "hirer"
	RoleWorker Role = "worker"
	RoleAdmin  Role = "admin"
)

type User struct {
	ID              string    `json:"id" db:"id"`
	Email           string    `json:"email,omitempty" db:"email"`
	PasswordHash    string    `json:"-" db:"password_hash"`
	FullName        string    `json:"fullName" db:"full_name"`
	Role            Role      `json:"role" db:"role"`
	Phone           string    `json:"phone,omitempty" db:"phone"`
	Trade           string    `json:"trade,omitempty" db:"trade"`
	Skills          []string  `json:"skills" db:"skills"`
	Location        string    `json:"location,omitempty" db:"location"`
	HourlyRateCents int64     `json:"hourlyRateCents,omitempty" db:"hourly_rate_cents"`
	Bio             string    `json:"bio,omitempty" db:"bio"`
	RatingAvg       float64   `json:"ratingAvg" db:"rating_avg"`
	RatingCount     int       `json:"ratingCount" db:"rating_count"`
	Suspended       bool      `json:"suspended" db:"suspended"`
	CreatedAt       time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt       time.Time `json:"updatedAt" db:"updated_at"`
}

// Public strips contact details before a profile is shown to other users.
func (u User) Public() User {
	u.Email = ""
	u.Phone = ""
	return u
}
