package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Plan is the billing tier of a user. Paid tiers unlock custom names and faster refreshes.
type Plan string

const (
	PlanFree         Plan = "free"
	PlanPersonal     Plan = "personal"
	PlanProfessional Plan = "professional"
)

func (p Plan) Paid() bool {
	return p == PlanPersonal || p == PlanProfessional
}

type User struct {
	ID        uuid.UUID
	Name      string
	Email     string
	Plan      Plan
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Provider identifies an OAuth provider a user linked.
type Provider string

const (
	ProviderTwitch  Provider = "twitch"
	ProviderTwitter Provider = "twitter"
)

// Account is an OAuth link for one provider. Twitter uses OAuth1 (token + secret),
// Twitch uses OAuth2 (access/refresh + expiry). Token fields are plaintext here;
// encryption happens in the repository.
type Account struct {
	ID                uuid.UUID
	UserID            uuid.UUID
	Provider          Provider
	ProviderAccountID string
	OAuthToken        string
	OAuthTokenSecret  string
	AccessToken       string
	RefreshToken      string
	ExpiresAt         time.Time
}

// TwitterCredentials are the per-user OAuth1 credentials used to act on a Twitter account.
type TwitterCredentials struct {
	AccountID string
	Token     string
	Secret    string
}

type AccountRepository interface {
	GetUser(ctx context.Context, userID uuid.UUID) (*User, error)
	GetAccount(ctx context.Context, userID uuid.UUID, provider Provider) (*Account, error)
}
