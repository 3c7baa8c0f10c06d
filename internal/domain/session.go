package domain

import (
	"context"
	"time"
)

type User struct {
	ID              string `json:"id"`
	Login           string `json:"login"`
	DisplayName     string `json:"display_name,omitempty"`
	ProfileImageURL string `json:"profile_image_url,omitempty"`
}

// Session is the server-side record behind a signed-in browser. The cookie only
// carries the user id.
type Session struct {
	User       User       `json:"user"`
	Credential Credential `json:"credential"`
	LoggedInAt time.Time  `json:"loggedInAt"`
}

type SessionRepository interface {
	Get(ctx context.Context, userID string) (*Session, error)
	Save(ctx context.Context, session Session) error
	Delete(ctx context.Context, userID string) error
}
