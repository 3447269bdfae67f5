package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrUserNotFound         = errors.New("user not found")
	ErrAccountNotFound      = errors.New("linked account not found")
	ErrSettingsNotFound     = errors.New("feature settings not found")
	ErrSnapshotNotFound     = errors.New("snapshot not found")
	ErrRenderNotFound       = errors.New("rendered asset not found")
	ErrOriginalNameNotFound = errors.New("original name not found")
	ErrStreamNotLive        = errors.New("stream is not live")
	ErrUnknownFeature       = errors.New("unknown feature")
	ErrUnsupportedEvent     = errors.New("unsupported event type")

	// Twitter account states. Unauthorized disables the failing feature,
	// suspended and locked disable every feature of the user.
	ErrTwitterUnauthorized = errors.New("twitter credentials rejected")
	ErrTwitterSuspended    = errors.New("twitter account suspended")
	ErrTwitterLocked       = errors.New("twitter account locked")
)

// RateLimitError is returned when Twitter rejects a call with its rate limit code.
type RateLimitError struct {
	Reset time.Time
}

func (e *RateLimitError) Error() string {
	if e.Reset.IsZero() {
		return "twitter rate limit exceeded"
	}
	return fmt.Sprintf("twitter rate limit exceeded, resets at %s", e.Reset.UTC().Format(time.RFC3339))
}

// IsAccountDisabled reports whether err means the Twitter account can no longer be used at all.
func IsAccountDisabled(err error) bool {
	return errors.Is(err, ErrTwitterSuspended) || errors.Is(err, ErrTwitterLocked)
}
