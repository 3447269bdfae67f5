package discord

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/google/uuid"
	"github.com/streamlux/pulsebanner/internal/adapter/metrics"
	"github.com/streamlux/pulsebanner/internal/domain"
)

const (
	colorRed  = 0xe74c3c
	username  = "PulseBanner"
	maxLength = 4000
)

type webhookExecutor interface {
	WebhookExecute(webhookID, token string, wait bool, data *discordgo.WebhookParams, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Notifier posts operator alerts to a Discord channel webhook.
type Notifier struct {
	session   webhookExecutor
	webhookID string
	token     string
	metrics   *metrics.UpstreamMetrics
}

// NewNotifier parses a webhook URL of the form https://discord.com/api/webhooks/{id}/{token}.
func NewNotifier(webhookURL string, m *metrics.UpstreamMetrics) (*Notifier, error) {
	id, token, err := ParseWebhookURL(webhookURL)
	if err != nil {
		return nil, err
	}
	session, err := discordgo.New("")
	if err != nil {
		return nil, fmt.Errorf("failed to create discord session: %w", err)
	}
	return &Notifier{session: session, webhookID: id, token: token, metrics: m}, nil
}

func ParseWebhookURL(raw string) (id, token string, err error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", fmt.Errorf("invalid discord webhook url: %w", err)
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i := 0; i+2 < len(parts); i++ {
		if parts[i] == "webhooks" && parts[i+1] != "" && parts[i+2] != "" {
			return parts[i+1], parts[i+2], nil
		}
	}
	return "", "", fmt.Errorf("invalid discord webhook url: no webhook id and token in %q", u.Path)
}

func (n *Notifier) Notify(ctx context.Context, alert domain.Alert) (err error) {
	start := time.Now()
	defer func() { n.metrics.Observe("discord", "webhook_execute", start, err) }()

	_, err = n.session.WebhookExecute(n.webhookID, n.token, false, &discordgo.WebhookParams{
		Username: username,
		Embeds:   []*discordgo.MessageEmbed{alertEmbed(alert)},
	}, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("failed to send discord alert: %w", err)
	}
	return nil
}

func alertEmbed(alert domain.Alert) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{
		Title:       alert.Title,
		Description: truncate(alert.Message, maxLength),
		Color:       colorRed,
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
		Footer:      &discordgo.MessageEmbedFooter{Text: "PulseBanner"},
	}
	if alert.UserID != uuid.Nil {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{Name: "User", Value: alert.UserID.String(), Inline: true})
	}
	if alert.Feature != 0 {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{Name: "Feature", Value: alert.Feature.String(), Inline: true})
	}
	return embed
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

// LogNotifier is used when no webhook is configured; alerts only reach the log.
type LogNotifier struct{}

func (LogNotifier) Notify(ctx context.Context, alert domain.Alert) error {
	slog.WarnContext(ctx, "Operator alert", "title", alert.Title, "message", alert.Message,
		"user_id", alert.UserID, "feature", alert.Feature)
	return nil
}
