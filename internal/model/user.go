package model

import "time"

// User is the identity that owns recipes and API keys.
// Deleting a user removes everything it owns.
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}
