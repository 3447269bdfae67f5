package domain

import (
	"context"
	"strings"
)

// TwitterProfile is the subset of the authenticated Twitter user the executors read.
type TwitterProfile struct {
	ID               string
	Name             string
	ScreenName       string
	ProfileImageURL  string
	ProfileBannerURL string
}

// FullSizeImageURL is the profile image without the size suffix Twitter adds.
func (p TwitterProfile) FullSizeImageURL() string {
	return strings.Replace(p.ProfileImageURL, "_normal", "", 1)
}

// TwitterClient acts on one user's Twitter account.
type TwitterClient interface {
	VerifyCredentials(ctx context.Context) (*TwitterProfile, error)
	UpdateName(ctx context.Context, name string) error
	UpdateBanner(ctx context.Context, image []byte) error
	RemoveBanner(ctx context.Context) error
	UpdateProfileImage(ctx context.Context, image []byte) error
	PostTweet(ctx context.Context, text string) error
	// BannerSnapshot downloads the current banner, or NoAsset if the profile has none.
	BannerSnapshot(ctx context.Context, profile *TwitterProfile) (Snapshot, error)
	ProfileImageSnapshot(ctx context.Context, profile *TwitterProfile) (Snapshot, error)
}

// TwitterClientFactory builds a client bound to a user's credentials.
type TwitterClientFactory interface {
	ForUser(creds TwitterCredentials) TwitterClient
}
