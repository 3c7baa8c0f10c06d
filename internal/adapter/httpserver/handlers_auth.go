package httpserver

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/svglol/better-clips/internal/domain"
	"github.com/svglol/better-clips/internal/platform/correlation"
	apperrors "github.com/svglol/better-clips/internal/platform/errors"
)

const (
	oauthTimeout      = 10 * time.Second
	callbackCookieAge = 10 * time.Minute
	contextKeyUserID  = "userID"
)

var oauthScopes = []string{"user:read:email", "user:read:follows"}

func (s *Server) registerAuthRoutes() {
	s.echo.GET("/auth/twitch", s.handleLogin)
	s.echo.GET("/auth/twitch/callback", s.handleOAuthCallback)
	sameOrigin := requireSameOrigin(newOriginCheck(s.config.TwitchRedirectURI, s.config.AppEnv == "development"))
	s.echo.POST("/auth/logout", s.handleLogout, sameOrigin)
}

// cookieUserID returns the user id carried by the session cookie, if any.
func (s *Server) cookieUserID(c echo.Context) string {
	session, err := s.cookies.Get(c.Request(), sessionName)
	if err != nil {
		return ""
	}
	userID, _ := session.Values[sessionKeyUserID].(string)
	return userID
}

// requireAuth resolves a usable user token before the handler runs, refreshing
// it when needed. A session that cannot be refreshed is gone afterwards, so the
// cookie is dropped too.
func (s *Server) requireAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID := s.cookieUserID(c)
		if userID == "" {
			return apperrors.UnauthorizedError(nil)
		}

		ctx := correlation.WithUserID(c.Request().Context(), userID)
		c.SetRequest(c.Request().WithContext(ctx))

		if _, err := s.tokens.Token(ctx, userID); err != nil {
			if errors.Is(err, domain.ErrUnauthenticated) {
				s.expireCookie(c)
			}
			return err
		}

		c.Set(contextKeyUserID, userID)
		return next(c)
	}
}

func (s *Server) expireCookie(c echo.Context) {
	session, err := s.cookies.Get(c.Request(), sessionName)
	if err != nil {
		return
	}
	session.Options.MaxAge = -1
	if err := session.Save(c.Request(), c.Response().Writer); err != nil {
		slog.WarnContext(c.Request().Context(), "Failed to expire session cookie", "error", err)
	}
}

func generateOAuthState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate OAuth state: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// safeRedirect accepts only same-origin absolute paths.
func safeRedirect(target string) (string, bool) {
	if !strings.HasPrefix(target, "/") || strings.HasPrefix(target, "//") || strings.HasPrefix(target, `/\`) {
		return "", false
	}
	return target, true
}

func (s *Server) handleLogin(c echo.Context) error {
	state, err := generateOAuthState()
	if err != nil {
		return apperrors.InternalError("failed to generate OAuth state", err)
	}

	session, err := s.cookies.Get(c.Request(), sessionName)
	if err != nil {
		slog.WarnContext(c.Request().Context(), "Discarding unreadable session cookie", "error", err)
	}
	session.Values[sessionKeyOAuthState] = state
	if err := session.Save(c.Request(), c.Response().Writer); err != nil {
		return apperrors.InternalError("failed to save OAuth state session", err)
	}

	if target, ok := safeRedirect(c.QueryParam(callbackCookieName)); ok {
		c.SetCookie(&http.Cookie{
			Name:     callbackCookieName,
			Value:    target,
			Path:     "/",
			MaxAge:   int(callbackCookieAge.Seconds()),
			HttpOnly: true,
			Secure:   s.config.AppEnv == "production",
			SameSite: http.SameSiteLaxMode,
		})
	}

	if err := c.Redirect(http.StatusFound, s.oauth.AuthorizeURL(state, oauthScopes)); err != nil {
		return fmt.Errorf("failed to redirect: %w", err)
	}
	return nil
}

// popCallback returns the post-login destination and clears its cookie.
func (s *Server) popCallback(c echo.Context) string {
	target := "/"
	if cookie, err := c.Cookie(callbackCookieName); err == nil {
		if t, ok := safeRedirect(cookie.Value); ok {
			target = t
		}
		c.SetCookie(&http.Cookie{Name: callbackCookieName, Path: "/", MaxAge: -1})
	}
	return target
}

func (s *Server) handleOAuthCallback(c echo.Context) error {
	ctx := c.Request().Context()

	if oauthErr := c.QueryParam("error"); oauthErr != "" {
		slog.WarnContext(ctx, "Twitch OAuth error", "error", oauthErr, "description", c.QueryParam("error_description"))
		return c.Redirect(http.StatusFound, "/")
	}

	code := c.QueryParam("code")
	if code == "" {
		return apperrors.ValidationError("missing code parameter").WithField("field", "code")
	}

	session, err := s.cookies.Get(c.Request(), sessionName)
	if err != nil {
		return apperrors.ValidationError("invalid session")
	}

	expectedState, ok := session.Values[sessionKeyOAuthState].(string)
	if !ok || expectedState == "" {
		return apperrors.ValidationError("missing OAuth state")
	}
	if c.QueryParam("state") != expectedState {
		return apperrors.ValidationError("invalid OAuth state")
	}
	delete(session.Values, sessionKeyOAuthState)

	ctx, cancel := context.WithTimeout(ctx, oauthTimeout)
	defer cancel()

	issuedAt := s.clock.Now()
	grant, err := s.oauth.AuthorizationCode(ctx, code)
	if err != nil {
		return apperrors.ExternalError("failed to authenticate with Twitch", err)
	}

	viewer, err := s.lookups.Viewer(ctx, grant.AccessToken)
	if err != nil {
		return err
	}

	record := domain.Session{
		User: domain.User{
			ID:              viewer.ID,
			Login:           viewer.Login,
			DisplayName:     viewer.DisplayName,
			ProfileImageURL: viewer.ProfileImageURL,
		},
		Credential: grant.Credential(issuedAt),
		LoggedInAt: issuedAt,
	}
	if err := s.sessions.Save(ctx, record); err != nil {
		return apperrors.InternalError("failed to save session", err).WithField("user_id", viewer.ID)
	}

	// Issue a fresh cookie so a pre-login session id never becomes authenticated.
	session.Options.MaxAge = -1
	if err := session.Save(c.Request(), c.Response().Writer); err != nil {
		return apperrors.InternalError("failed to invalidate old session", err)
	}

	session, err = s.cookies.New(c.Request(), sessionName)
	if err != nil && session == nil {
		return apperrors.InternalError("failed to create new session", err)
	}
	session.Values[sessionKeyUserID] = viewer.ID
	if err := session.Save(c.Request(), c.Response().Writer); err != nil {
		return apperrors.InternalError("failed to save session", err)
	}

	slog.InfoContext(ctx, "User logged in", "user_id", viewer.ID, "login", viewer.Login)

	if err := c.Redirect(http.StatusFound, s.popCallback(c)); err != nil {
		return fmt.Errorf("failed to redirect: %w", err)
	}
	return nil
}

func (s *Server) handleLogout(c echo.Context) error {
	ctx := c.Request().Context()

	if userID := s.cookieUserID(c); userID != "" {
		if err := s.sessions.Delete(ctx, userID); err != nil {
			return apperrors.InternalError("failed to delete session", err).WithField("user_id", userID)
		}
		if s.follows != nil {
			if err := s.follows.Forget(ctx, userID); err != nil {
				slog.WarnContext(ctx, "Failed to drop cached follow list", "user_id", userID, "error", err)
			}
		}
		slog.InfoContext(ctx, "User logged out", "user_id", userID)
	}
	s.expireCookie(c)

	if err := c.JSON(http.StatusOK, map[string]string{"status": "ok"}); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

type sessionResponse struct {
	User       *domain.User `json:"user,omitempty"`
	LoggedInAt *time.Time   `json:"loggedInAt,omitempty"`
}

// handleSession reports the signed-in user without exposing the credential.
// The token is resolved first so that a session whose refresh token died reads
// as signed out. Anonymous callers get an empty object.
func (s *Server) handleSession(c echo.Context) error {
	var resp sessionResponse

	if userID := s.cookieUserID(c); userID != "" {
		record, err := s.currentSession(c, userID)
		if err != nil {
			return err
		}
		if record != nil {
			resp.User = &record.User
			resp.LoggedInAt = &record.LoggedInAt
		}
	}

	if err := c.JSON(http.StatusOK, resp); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

// currentSession returns nil when the user can no longer authenticate, after
// expiring the cookie.
func (s *Server) currentSession(c echo.Context, userID string) (*domain.Session, error) {
	ctx := correlation.WithUserID(c.Request().Context(), userID)

	if _, err := s.tokens.Token(ctx, userID); err != nil {
		if errors.Is(err, domain.ErrUnauthenticated) {
			s.expireCookie(c)
			return nil, nil
		}
		return nil, err
	}

	record, err := s.sessions.Get(ctx, userID)
	switch {
	case errors.Is(err, domain.ErrSessionNotFound):
		s.expireCookie(c)
		return nil, nil
	case err != nil:
		return nil, apperrors.InternalError("failed to read session", err)
	}
	return record, nil
}
