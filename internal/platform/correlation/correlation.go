// Package correlation tags a request's context with identifiers that every log
// line written under that context should carry.
package correlation

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
)

// Header is the request header that carries an upstream-assigned ID.
const Header = "X-Request-ID"

const maxIDLength = 64

type contextKey struct{}

// fields is immutable; every With* call stores a copy.
type fields struct {
	id     string
	userID string
}

func from(ctx context.Context) fields {
	f, _ := ctx.Value(contextKey{}).(fields)
	return f
}

// NewID generates an 8-character hex correlation ID (4 random bytes).
func NewID() string {
	b := make([]byte, 4)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// FromHeader returns the header value if it is a usable ID, otherwise a fresh one.
func FromHeader(value string) string {
	if value == "" || len(value) > maxIDLength {
		return NewID()
	}
	for _, r := range value {
		if !isIDRune(r) {
			return NewID()
		}
	}
	return value
}

func isIDRune(r rune) bool {
	return r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '-' || r == '_'
}

func WithID(ctx context.Context, id string) context.Context {
	f := from(ctx)
	f.id = id
	return context.WithValue(ctx, contextKey{}, f)
}

// ID returns the correlation ID, or ("", false) when none is set.
func ID(ctx context.Context) (string, bool) {
	id := from(ctx).id
	return id, id != ""
}

// WithUserID marks ctx as acting for a signed-in Twitch user.
func WithUserID(ctx context.Context, userID string) context.Context {
	f := from(ctx)
	f.userID = userID
	return context.WithValue(ctx, contextKey{}, f)
}

func UserID(ctx context.Context) (string, bool) {
	userID := from(ctx).userID
	return userID, userID != ""
}

// Handler wraps a slog.Handler and adds "correlation_id" and "user_id" from the
// record's context.
type Handler struct {
	inner slog.Handler
}

func NewHandler(inner slog.Handler) *Handler {
	return &Handler{inner: inner}
}

func (h *Handler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *Handler) Handle(ctx context.Context, r slog.Record) error {
	f := from(ctx)
	if f.id != "" {
		r.AddAttrs(slog.String("correlation_id", f.id))
	}
	if f.userID != "" {
		r.AddAttrs(slog.String("user_id", f.userID))
	}
	if err := h.inner.Handle(ctx, r); err != nil {
		return fmt.Errorf("correlation handler: %w", err)
	}
	return nil
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &Handler{inner: h.inner.WithAttrs(attrs)}
}

func (h *Handler) WithGroup(name string) slog.Handler {
	return &Handler{inner: h.inner.WithGroup(name)}
}
