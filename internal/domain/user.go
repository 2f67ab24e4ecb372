package domain

import "time"

// User is a Google-authenticated account. The access and refresh tokens are
// the Drive credentials used when delivering export archives; they are
// rewritten whenever the upload client refreshes them.
type User struct {
	ID           int64
	GoogleID     string
	Email        string
	Name         string
	PhotoURL     string
	AccessToken  string
	RefreshToken string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
