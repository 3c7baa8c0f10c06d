package httpserver

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/svglol/better-clips/internal/clips"
)

func (s *Server) registerClipRoutes(api *echo.Group) {
	api.GET("/twitch/user/topclips", s.handleTopClips, s.requireAuth)
	api.GET("/twitch/trending-clips", s.handleTrendingClips)
}

func (s *Server) handleTopClips(c echo.Context) error {
	req, err := clips.ParsePageRequest(c.QueryParam("page"), c.QueryParam("first"), "first")
	if err != nil {
		return err
	}

	userID, _ := c.Get(contextKeyUserID).(string)
	page, err := s.clips.TopClips(c.Request().Context(), userID, req)
	if err != nil {
		return err
	}

	if err := c.JSON(http.StatusOK, page); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handleTrendingClips(c echo.Context) error {
	req, err := clips.ParsePageRequest(c.QueryParam("page"), c.QueryParam("limit"), "limit")
	if err != nil {
		return err
	}

	page, err := s.clips.TrendingClips(c.Request().Context(), req)
	if err != nil {
		return err
	}

	if err := c.JSON(http.StatusOK, page); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}
