package discord

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/google/uuid"
	"github.com/streamlux/pulsebanner/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWebhook struct {
	ExecuteFn func(webhookID, token string, data *discordgo.WebhookParams) error

	calls int
}

func (f *fakeWebhook) WebhookExecute(webhookID, token string, _ bool, data *discordgo.WebhookParams, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.calls++
	if f.ExecuteFn != nil {
		return nil, f.ExecuteFn(webhookID, token, data)
	}
	return nil, nil
}

func TestParseWebhookURL(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		id      string
		token   string
		wantErr bool
	}{
		{"discord.com", "https://discord.com/api/webhooks/123456/abc-DEF_tok", "123456", "abc-DEF_tok", false},
		{"versioned api", "https://discord.com/api/v10/webhooks/99/tok", "99", "tok", false},
		{"missing token", "https://discord.com/api/webhooks/123456", "", "", true},
		{"not a webhook", "https://example.com/hooks/1/2", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, token, err := ParseWebhookURL(tt.url)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.id, id)
			assert.Equal(t, tt.token, token)
		})
	}
}

func TestNotify_SendsEmbed(t *testing.T) {
	userID := uuid.New()
	fake := &fakeWebhook{
		ExecuteFn: func(webhookID, token string, data *discordgo.WebhookParams) error {
			assert.Equal(t, "123", webhookID)
			assert.Equal(t, "tok", token)
			require.Len(t, data.Embeds, 1)
			embed := data.Embeds[0]
			assert.Equal(t, "Banner streamup failed", embed.Title)
			assert.Equal(t, "render service unavailable", embed.Description)
			require.Len(t, embed.Fields, 2)
			assert.Equal(t, userID.String(), embed.Fields[0].Value)
			assert.Equal(t, "banner", embed.Fields[1].Value)
			return nil
		},
	}
	n := &Notifier{session: fake, webhookID: "123", token: "tok"}

	err := n.Notify(context.Background(), domain.Alert{
		Title:   "Banner streamup failed",
		Message: "render service unavailable",
		UserID:  userID,
		Feature: domain.FeatureBanner,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, fake.calls)
}

func TestNotify_WrapsError(t *testing.T) {
	fake := &fakeWebhook{ExecuteFn: func(string, string, *discordgo.WebhookParams) error {
		return errors.New("HTTP 429")
	}}
	n := &Notifier{session: fake, webhookID: "1", token: "t"}

	err := n.Notify(context.Background(), domain.Alert{Title: "x"})
	assert.ErrorContains(t, err, "failed to send discord alert")
}

func TestAlertEmbed_TruncatesLongMessages(t *testing.T) {
	embed := alertEmbed(domain.Alert{Title: "t", Message: strings.Repeat("é", maxLength+10)})

	assert.Len(t, []rune(embed.Description), maxLength)
	assert.Empty(t, embed.Fields)
}

func TestNewNotifier_RejectsBadURL(t *testing.T) {
	_, err := NewNotifier("https://discord.com/api/nothing", nil)
	assert.Error(t, err)
}

func TestLogNotifier(t *testing.T) {
	assert.NoError(t, LogNotifier{}.Notify(context.Background(), domain.Alert{Title: "t"}))
}
