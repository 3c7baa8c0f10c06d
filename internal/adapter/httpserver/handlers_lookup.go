package httpserver

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/svglol/better-clips/internal/app"
	apperrors "github.com/svglol/better-clips/internal/platform/errors"
)

func (s *Server) registerLookupRoutes(api *echo.Group) {
	api.GET("/twitch/user/followed", s.handleFollowed, s.requireAuth)
	api.GET("/twitch/clips", s.handleClips)
	api.GET("/twitch/clips/:id", s.handleClip)
	api.GET("/twitch/game", s.handleGame)
	api.GET("/twitch/game/search", s.handleSearchGames)
	api.GET("/twitch/channels/search", s.handleSearchChannels)
	api.GET("/twitch/channels/:name", s.handleChannel)
}

func respond(c echo.Context, body any, err error) error {
	if err != nil {
		return err
	}
	if err := c.JSON(http.StatusOK, body); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handleFollowed(c echo.Context) error {
	ctx := c.Request().Context()
	userID, _ := c.Get(contextKeyUserID).(string)

	record, err := s.sessions.Get(ctx, userID)
	if err != nil {
		return apperrors.UnauthorizedError(err)
	}

	users, err := s.lookups.FollowedUsers(ctx, record.User)
	return respond(c, users, err)
}

func (s *Server) handleClips(c echo.Context) error {
	page, err := s.lookups.Clips(c.Request().Context(), app.ClipsQuery{
		BroadcasterID: c.QueryParam("broadcaster_id"),
		GameID:        c.QueryParam("game_id"),
		First:         c.QueryParam("first"),
		After:         c.QueryParam("after"),
		StartedAt:     c.QueryParam("started_at"),
		EndedAt:       c.QueryParam("ended_at"),
	})
	return respond(c, page, err)
}

func (s *Server) handleClip(c echo.Context) error {
	clip, err := s.lookups.Clip(c.Request().Context(), c.Param("id"))
	return respond(c, clip, err)
}

func (s *Server) handleGame(c echo.Context) error {
	page, err := s.lookups.Game(c.Request().Context(), app.GameQuery{
		ID:     c.QueryParam("id"),
		Name:   c.QueryParam("name"),
		IGDBID: c.QueryParam("igdb_id"),
	})
	return respond(c, page, err)
}

func (s *Server) handleSearchGames(c echo.Context) error {
	page, err := s.lookups.SearchGames(c.Request().Context(),
		c.QueryParam("query"), c.QueryParam("first"), c.QueryParam("after"))
	return respond(c, page, err)
}

func (s *Server) handleSearchChannels(c echo.Context) error {
	page, err := s.lookups.SearchChannels(c.Request().Context(), app.ChannelSearch{
		Query:    c.QueryParam("query"),
		LiveOnly: c.QueryParam("live_only"),
		First:    c.QueryParam("first"),
		After:    c.QueryParam("after"),
	})
	return respond(c, page, err)
}

func (s *Server) handleChannel(c echo.Context) error {
	user, err := s.lookups.ChannelByLogin(c.Request().Context(), c.Param("name"))
	return respond(c, user, err)
}
