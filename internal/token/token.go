// Package token keeps Twitch credentials valid under concurrent request pressure.
//
// AppTokens manages the shared client-credentials token. UserTokens manages each
// signed-in user's token pair, refreshing it at most once at a time per user via
// a refresh lock in the credential store; concurrent requests that find the lock
// held wait for it with a bounded budget and then re-read the session.
package token

import (
	"crypto/sha256"
	"encoding/hex"
)

const (
	kindClientCredentials = "client_credentials"
	kindRefreshToken      = "refresh_token"

	outcomeSuccess = "success"
	outcomeFailure = "failure"
)

// Recorder receives token lifecycle events. *metrics.TokenMetrics satisfies it.
type Recorder interface {
	Exchanged(kind, outcome string)
	LockWaited(outcome string)
}

type noopRecorder struct{}

func (noopRecorder) Exchanged(string, string) {}
func (noopRecorder) LockWaited(string)        {}

func orNoop(r Recorder) Recorder {
	if r == nil {
		return noopRecorder{}
	}
	return r
}

// Hash identifies an access token in cache keys without storing the token itself.
func Hash(accessToken string) string {
	sum := sha256.Sum256([]byte(accessToken))
	return hex.EncodeToString(sum[:])
}
