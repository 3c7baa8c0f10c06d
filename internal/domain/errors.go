package domain

import "errors"

var (
	ErrNotFound        = errors.New("not found")
	ErrSessionNotFound = errors.New("session not found")

	// ErrUnauthenticated means there is no usable user credential: the session is
	// missing or was cleared after a failed refresh.
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrRefreshTimeout means another request held the refresh lock for longer than
	// the wait budget allows.
	ErrRefreshTimeout = errors.New("token refresh timed out waiting for lock")
)
