package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

const SubscriptionStatusEnabled = "enabled"

// EventSubSubscription is a Twitch-side EventSub registration. It is never stored
// locally; it is always fetched live from Twitch.
type EventSubSubscription struct {
	ID                string
	Type              EventType
	Status            string
	BroadcasterUserID string
	Callback          string
	CreatedAt         time.Time
}

func (s EventSubSubscription) Enabled() bool {
	return s.Status == SubscriptionStatusEnabled
}

// EventSubRequest describes a webhook subscription to create.
type EventSubRequest struct {
	Type              EventType
	BroadcasterUserID string
	Callback          string
}

// EventSubClient manages the app's EventSub subscriptions on Twitch.
type EventSubClient interface {
	// ListSubscriptions returns every subscription of the app, following pagination.
	ListSubscriptions(ctx context.Context) ([]EventSubSubscription, error)
	CreateSubscription(ctx context.Context, req EventSubRequest) (*EventSubSubscription, error)
	DeleteSubscription(ctx context.Context, id string) error
}

type Stream struct {
	ID           string
	UserID       string
	UserLogin    string
	UserName     string
	Title        string
	GameName     string
	ThumbnailURL string
	ViewerCount  int
	StartedAt    time.Time
}

type TwitchUser struct {
	ID              string
	Login           string
	DisplayName     string
	ProfileImageURL string
}

// StreamLookup reads public channel state from Twitch.
type StreamLookup interface {
	// GetStream returns ErrStreamNotLive when the broadcaster is offline.
	GetStream(ctx context.Context, broadcasterID string) (*Stream, error)
	GetUser(ctx context.Context, userID string) (*TwitchUser, error)
}

// Notification is a verified EventSub notification addressed to one of our users.
type Notification struct {
	MessageID         string
	UserID            uuid.UUID
	Type              EventType
	BroadcasterUserID string
	StreamID          string
	StartedAt         time.Time
}

// LiveStream is a stream we saw go online and have not yet seen end.
type LiveStream struct {
	UserID    uuid.UUID
	StreamID  string
	StartedAt time.Time
}

// StreamRepository records live and past streams.
type StreamRepository interface {
	StartStream(ctx context.Context, userID uuid.UUID, streamID string, startedAt time.Time) error
	// EndStream moves the live row into past streams. A missing live row is not an error.
	EndStream(ctx context.Context, userID uuid.UUID, endedAt time.Time) error
	// LiveBannerUsers lists live users on the given plan with the banner feature enabled.
	LiveBannerUsers(ctx context.Context, plan Plan) ([]uuid.UUID, error)
}

// MessageDeduplicator reports whether an EventSub message id is seen for the first time.
type MessageDeduplicator interface {
	FirstDelivery(ctx context.Context, messageID string) (bool, error)
}
