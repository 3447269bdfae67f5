package httpserver

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/labstack/echo/v4"
	"github.com/streamlux/pulsebanner/internal/app"
	"github.com/streamlux/pulsebanner/internal/domain"
	"github.com/streamlux/pulsebanner/internal/platform/apperrors"
)

const (
	maxStreamNameLength   = 50
	maxTweetContentLength = 280
	maxComponentIDLength  = 64
)

func (s *Server) registerFeatureRoutes(mw ...echo.MiddlewareFunc) {
	g := s.echo.Group("/api/features", append(mw, s.requireAuth)...)

	g.GET("", s.handleGetFeatures)
	g.POST("/reconcile", s.handleReconcile)
	g.PUT("/banner", s.handleUpdateBanner)
	g.PUT("/profileimage", s.handleUpdateProfileImage)
	g.PUT("/twittername", s.handleUpdateTwitterName)
	g.PUT("/tweet", s.handleUpdateTweet)
	g.PUT("/:feature/enabled", s.handleSetEnabled)
	g.POST("/:feature/streamup", s.handleTrigger(domain.EventStreamOnline))
	g.POST("/:feature/streamdown", s.handleTrigger(domain.EventStreamOffline))
}

type imageSettingsJSON struct {
	Enabled         bool           `json:"enabled"`
	ForegroundID    string         `json:"foregroundId"`
	BackgroundID    string         `json:"backgroundId"`
	ForegroundProps map[string]any `json:"foregroundProps"`
	BackgroundProps map[string]any `json:"backgroundProps"`
	UpdatedAt       time.Time      `json:"updatedAt"`
}

type twitterNameJSON struct {
	Enabled    bool      `json:"enabled"`
	StreamName string    `json:"streamName"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

type tweetJSON struct {
	Enabled   bool      `json:"enabled"`
	Content   string    `json:"content"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type featuresResponse struct {
	Enabled      map[string]bool   `json:"enabled"`
	Banner       imageSettingsJSON `json:"banner"`
	TwitterName  twitterNameJSON   `json:"twitterName"`
	ProfileImage imageSettingsJSON `json:"profileImage"`
	Tweet        tweetJSON         `json:"tweet"`
}

func imageToJSON(s domain.ImageSettings) imageSettingsJSON {
	return imageSettingsJSON{
		Enabled:         s.Enabled,
		ForegroundID:    s.ForegroundID,
		BackgroundID:    s.BackgroundID,
		ForegroundProps: s.ForegroundProps,
		BackgroundProps: s.BackgroundProps,
		UpdatedAt:       s.UpdatedAt,
	}
}

func (j imageSettingsJSON) toDomain() domain.ImageSettings {
	return domain.ImageSettings{
		ForegroundID:    strings.TrimSpace(j.ForegroundID),
		BackgroundID:    strings.TrimSpace(j.BackgroundID),
		ForegroundProps: j.ForegroundProps,
		BackgroundProps: j.BackgroundProps,
	}
}

func twitterNameToJSON(s domain.TwitterNameSettings) twitterNameJSON {
	return twitterNameJSON{Enabled: s.Enabled, StreamName: s.StreamName, UpdatedAt: s.UpdatedAt}
}

func tweetToJSON(s domain.TweetSettings) tweetJSON {
	return tweetJSON{Enabled: s.Enabled, Content: s.Content, UpdatedAt: s.UpdatedAt}
}

func (s *Server) handleGetFeatures(c echo.Context) error {
	userID, err := userIDFrom(c)
	if err != nil {
		return err
	}

	settings, err := s.features.GetSettings(c.Request().Context(), userID)
	if err != nil {
		return apperrors.InternalError("failed to load feature settings", err).WithField("user_id", userID.String())
	}

	enabled := make(map[string]bool, len(domain.AllFeatures))
	for _, f := range domain.AllFeatures {
		enabled[f.String()] = settings.Enabled(f)
	}

	response := featuresResponse{
		Enabled:      enabled,
		Banner:       imageToJSON(settings.Banner.ImageSettings),
		TwitterName:  twitterNameToJSON(*settings.TwitterName),
		ProfileImage: imageToJSON(settings.ProfileImage.ImageSettings),
		Tweet:        tweetToJSON(*settings.Tweet),
	}
	if err := c.JSON(http.StatusOK, response); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

type setEnabledRequest struct {
	Enabled *bool `json:"enabled"`
}

type setEnabledResponse struct {
	Feature   string              `json:"feature"`
	Enabled   bool                `json:"enabled"`
	Reconcile app.ReconcileResult `json:"reconcile"`
}

func (s *Server) handleSetEnabled(c echo.Context) error {
	userID, err := userIDFrom(c)
	if err != nil {
		return err
	}
	feature, err := domain.ParseFeature(c.Param("feature"))
	if err != nil {
		return apperrors.ValidationError("unknown feature").WithField("feature", c.Param("feature"))
	}

	var req setEnabledRequest
	if err := c.Bind(&req); err != nil || req.Enabled == nil {
		return apperrors.ValidationError(`body must be {"enabled": true|false}`)
	}

	result, err := s.features.SetEnabled(c.Request().Context(), userID, feature, *req.Enabled)
	if errors.Is(err, app.ErrReconcileFailed) {
		return apperrors.ExternalError("feature saved but twitch subscriptions could not be updated", err).
			WithField("feature", feature.String())
	}
	if err != nil {
		return apperrors.InternalError("failed to save feature flag", err).WithField("feature", feature.String())
	}

	response := setEnabledResponse{Feature: feature.String(), Enabled: *req.Enabled, Reconcile: result}
	if err := c.JSON(http.StatusOK, response); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handleReconcile(c echo.Context) error {
	userID, err := userIDFrom(c)
	if err != nil {
		return err
	}

	result, err := s.features.Reconcile(c.Request().Context(), userID)
	if errors.Is(err, domain.ErrAccountNotFound) {
		return apperrors.NotFoundError("twitch account not linked")
	}
	if err != nil {
		return apperrors.ExternalError("failed to reconcile twitch subscriptions", err)
	}

	if err := c.JSON(http.StatusOK, result); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func validateImageSettings(in imageSettingsJSON) error {
	if strings.TrimSpace(in.ForegroundID) == "" || strings.TrimSpace(in.BackgroundID) == "" {
		return apperrors.ValidationError("foregroundId and backgroundId are required")
	}
	if len(in.ForegroundID) > maxComponentIDLength || len(in.BackgroundID) > maxComponentIDLength {
		return apperrors.ValidationError(fmt.Sprintf("component ids must be at most %d characters", maxComponentIDLength))
	}
	return nil
}

func (s *Server) handleUpdateBanner(c echo.Context) error {
	userID, err := userIDFrom(c)
	if err != nil {
		return err
	}

	var req imageSettingsJSON
	if err := c.Bind(&req); err != nil {
		return apperrors.ValidationError("invalid request body")
	}
	if err := validateImageSettings(req); err != nil {
		return err
	}

	saved, err := s.features.UpdateBanner(c.Request().Context(), userID, domain.BannerSettings{ImageSettings: req.toDomain()})
	if err != nil {
		return apperrors.InternalError("failed to save banner settings", err)
	}
	if err := c.JSON(http.StatusOK, imageToJSON(saved.ImageSettings)); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handleUpdateProfileImage(c echo.Context) error {
	userID, err := userIDFrom(c)
	if err != nil {
		return err
	}

	var req imageSettingsJSON
	if err := c.Bind(&req); err != nil {
		return apperrors.ValidationError("invalid request body")
	}
	if err := validateImageSettings(req); err != nil {
		return err
	}

	saved, err := s.features.UpdateProfileImage(c.Request().Context(), userID, domain.ProfileImageSettings{ImageSettings: req.toDomain()})
	if err != nil {
		return apperrors.InternalError("failed to save profile image settings", err)
	}
	if err := c.JSON(http.StatusOK, imageToJSON(saved.ImageSettings)); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handleUpdateTwitterName(c echo.Context) error {
	userID, err := userIDFrom(c)
	if err != nil {
		return err
	}

	var req twitterNameJSON
	if err := c.Bind(&req); err != nil {
		return apperrors.ValidationError("invalid request body")
	}
	name := strings.TrimSpace(req.StreamName)
	if utf8.RuneCountInString(name) > maxStreamNameLength {
		return apperrors.ValidationError(fmt.Sprintf("streamName must be at most %d characters", maxStreamNameLength))
	}

	saved, err := s.features.UpdateTwitterName(c.Request().Context(), userID, domain.TwitterNameSettings{StreamName: name})
	if err != nil {
		return apperrors.InternalError("failed to save twitter name settings", err)
	}
	if err := c.JSON(http.StatusOK, twitterNameToJSON(*saved)); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handleUpdateTweet(c echo.Context) error {
	userID, err := userIDFrom(c)
	if err != nil {
		return err
	}

	var req tweetJSON
	if err := c.Bind(&req); err != nil {
		return apperrors.ValidationError("invalid request body")
	}
	content := strings.TrimSpace(req.Content)
	if utf8.RuneCountInString(content) > maxTweetContentLength {
		return apperrors.ValidationError(fmt.Sprintf("content must be at most %d characters", maxTweetContentLength))
	}

	saved, err := s.features.UpdateTweet(c.Request().Context(), userID, domain.TweetSettings{Content: content})
	if err != nil {
		return apperrors.InternalError("failed to save tweet settings", err)
	}
	if err := c.JSON(http.StatusOK, tweetToJSON(*saved)); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

type triggerResponse struct {
	Feature string `json:"feature"`
	Status  int    `json:"status"`
	Message string `json:"message"`
}

// handleTrigger runs one feature's streamup or streamdown for the signed-in user.
// The response status mirrors the outcome.
func (s *Server) handleTrigger(eventType domain.EventType) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, err := userIDFrom(c)
		if err != nil {
			return err
		}
		feature, err := domain.ParseFeature(c.Param("feature"))
		if err != nil {
			return apperrors.ValidationError("unknown feature").WithField("feature", c.Param("feature"))
		}

		outcome, err := s.trigger.Trigger(c.Request().Context(), userID, feature, eventType)
		if err != nil {
			return apperrors.InternalError("failed to run feature", err).WithField("feature", feature.String())
		}

		response := triggerResponse{
			Feature: feature.String(),
			Status:  int(outcome.Outcome.Status),
			Message: outcome.Outcome.Message,
		}
		if err := c.JSON(int(outcome.Outcome.Status), response); err != nil {
			return fmt.Errorf("failed to send JSON response: %w", err)
		}
		return nil
	}
}
