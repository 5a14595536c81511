package store

import "time"

type User struct {
	ID           string
	Email        string
	DisplayName  string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Document has exactly one owner for its whole life. ContentRef is nil until
// the backing content blob is first materialized and never returns to nil
// afterwards.
type Document struct {
	ID         string
	OwnerID    string
	ContentRef *string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}
