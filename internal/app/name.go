package app

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/streamlux/pulsebanner/internal/domain"
)

const (
	// LiveNamePrefix decorates the original name for users without a custom stream name.
	LiveNamePrefix = "🔴 Live now | "
	maxNameLength  = 50
)

// NameExecutor changes the Twitter display name while live and restores the saved original.
type NameExecutor struct {
	executorBase
	features domain.FeatureRepository
	names    domain.OriginalNameRepository
}

func NewNameExecutor(accounts domain.AccountRepository, twitter domain.TwitterClientFactory, disabler featureDisabler,
	features domain.FeatureRepository, names domain.OriginalNameRepository) *NameExecutor {
	return &NameExecutor{
		executorBase: executorBase{feature: domain.FeatureTwitterName, accounts: accounts, twitter: twitter, disabler: disabler},
		features:     features,
		names:        names,
	}
}

// LiveName is the display name to show while live. Paid plans may set their own
// stream name; everyone else gets the prefix in front of their original name.
func LiveName(plan domain.Plan, streamName, original string) string {
	name := LiveNamePrefix + original
	if custom := strings.TrimSpace(streamName); plan.Paid() && custom != "" {
		name = custom
	}
	return truncateRunes(name, maxNameLength)
}

func (e *NameExecutor) StreamUp(ctx context.Context, userID uuid.UUID) (domain.Outcome, error) {
	out, err := e.streamUp(ctx, userID)
	return e.finish(ctx, userID, "streamup", out, err)
}

func (e *NameExecutor) streamUp(ctx context.Context, userID uuid.UUID) (domain.Outcome, error) {
	var streamName string
	settings, err := e.features.GetTwitterName(ctx, userID)
	switch {
	case err == nil:
		streamName = settings.StreamName
	case !errors.Is(err, domain.ErrSettingsNotFound):
		return domain.Outcome{}, err
	}

	user, err := e.accounts.GetUser(ctx, userID)
	if err != nil {
		return domain.Outcome{}, err
	}
	client, profile, err := e.connect(ctx, userID)
	if err != nil {
		return domain.Outcome{}, err
	}

	name := LiveName(user.Plan, streamName, profile.Name)

	// A repeated streamup sees the live name; keep the real original in that case.
	if profile.Name != name && !strings.HasPrefix(profile.Name, LiveNamePrefix) {
		if err := e.names.SaveOriginalName(ctx, userID, profile.Name); err != nil {
			return domain.Outcome{}, err
		}
	}

	if err := client.UpdateName(ctx, name); err != nil {
		return domain.Outcome{}, err
	}
	return domain.Succeeded("name updated"), nil
}

func (e *NameExecutor) StreamDown(ctx context.Context, userID uuid.UUID) (domain.Outcome, error) {
	out, err := e.streamDown(ctx, userID)
	return e.finish(ctx, userID, "streamdown", out, err)
}

func (e *NameExecutor) streamDown(ctx context.Context, userID uuid.UUID) (domain.Outcome, error) {
	client, _, err := e.connect(ctx, userID)
	if err != nil {
		return domain.Outcome{}, err
	}

	original, err := e.names.GetOriginalName(ctx, userID)
	if errors.Is(err, domain.ErrOriginalNameNotFound) {
		return domain.Failed("no original name saved"), nil
	}
	if err != nil {
		return domain.Outcome{}, err
	}

	if err := client.UpdateName(ctx, original); err != nil {
		return domain.Outcome{}, err
	}
	return domain.Succeeded("original name restored"), nil
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
