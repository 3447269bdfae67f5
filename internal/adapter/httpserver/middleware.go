package httpserver

import (
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/streamlux/pulsebanner/internal/domain"
	"github.com/streamlux/pulsebanner/internal/platform/apperrors"
	"github.com/streamlux/pulsebanner/internal/platform/correlation"
)

const contextKeyUserID = "userID"

func correlationMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := correlation.WithID(c.Request().Context(), correlation.NewID())
		c.SetRequest(c.Request().WithContext(ctx))
		return next(c)
	}
}

// requireAuth resolves the signed-in user from the session cookie and stores it under "userID".
func (s *Server) requireAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		session, err := s.sessionStore.Get(c.Request(), sessionName)
		if err != nil {
			return apperrors.UnauthorizedError("invalid session")
		}

		raw, ok := session.Values[sessionKeyUserID].(string)
		if !ok {
			return apperrors.UnauthorizedError("not signed in")
		}
		userID, err := uuid.Parse(raw)
		if err != nil {
			return apperrors.UnauthorizedError("invalid session")
		}

		// Handles deleted accounts and wiped databases.
		_, err = s.users.GetUser(c.Request().Context(), userID)
		if errors.Is(err, domain.ErrUserNotFound) {
			slog.WarnContext(c.Request().Context(), "Session references unknown user", "user_id", userID)
			return apperrors.UnauthorizedError("not signed in")
		}
		if err != nil {
			return apperrors.InternalError("failed to load user", err)
		}

		c.Set(contextKeyUserID, userID)
		return next(c)
	}
}

func userIDFrom(c echo.Context) (uuid.UUID, error) {
	userID, ok := c.Get(contextKeyUserID).(uuid.UUID)
	if !ok {
		return uuid.Nil, apperrors.InternalError("invalid user ID in context", nil)
	}
	return userID, nil
}
