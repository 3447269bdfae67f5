package app

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/streamlux/pulsebanner/internal/domain"
)

const (
	DefaultTweet   = "I'm live on Twitch! Come hang out."
	maxTweetLength = 280
)

// TweetExecutor posts a going-live tweet. There is nothing to undo on streamdown.
type TweetExecutor struct {
	executorBase
	features domain.FeatureRepository
	streams  domain.StreamLookup
}

func NewTweetExecutor(accounts domain.AccountRepository, twitter domain.TwitterClientFactory, disabler featureDisabler,
	features domain.FeatureRepository, streams domain.StreamLookup) *TweetExecutor {
	return &TweetExecutor{
		executorBase: executorBase{feature: domain.FeatureTweet, accounts: accounts, twitter: twitter, disabler: disabler},
		features:     features,
		streams:      streams,
	}
}

// TweetText appends the channel link to content, shortening content so the link always fits.
func TweetText(content, channelURL string) string {
	content = strings.TrimSpace(content)
	if content == "" {
		content = DefaultTweet
	}
	suffix := "\n" + channelURL
	room := maxTweetLength - len([]rune(suffix))
	return truncateRunes(content, max(room, 0)) + suffix
}

// ChannelURL is the Twitch channel link appended to live tweets.
func ChannelURL(login string) string {
	return "https://www.twitch.tv/" + login
}

func (e *TweetExecutor) StreamUp(ctx context.Context, userID uuid.UUID) (domain.Outcome, error) {
	out, err := e.streamUp(ctx, userID)
	return e.finish(ctx, userID, "streamup", out, err)
}

func (e *TweetExecutor) streamUp(ctx context.Context, userID uuid.UUID) (domain.Outcome, error) {
	var content string
	settings, err := e.features.GetTweet(ctx, userID)
	switch {
	case err == nil:
		content = settings.Content
	case !errors.Is(err, domain.ErrSettingsNotFound):
		return domain.Outcome{}, err
	}

	broadcasterID, err := e.twitchAccountID(ctx, userID)
	if err != nil {
		return domain.Outcome{}, err
	}
	twitchUser, err := e.streams.GetUser(ctx, broadcasterID)
	if err != nil {
		return domain.Outcome{}, err
	}
	client, _, err := e.connect(ctx, userID)
	if err != nil {
		return domain.Outcome{}, err
	}

	if err := client.PostTweet(ctx, TweetText(content, ChannelURL(twitchUser.Login))); err != nil {
		return domain.Outcome{}, err
	}
	return domain.Succeeded("tweet posted"), nil
}

func (e *TweetExecutor) StreamDown(context.Context, uuid.UUID) (domain.Outcome, error) {
	return domain.Succeeded("nothing to do"), nil
}
