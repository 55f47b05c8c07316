package services

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"desperado-club/models"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Embed colors per event type
var eventColors = map[string]int{
	EventLevelUp:               0xF1C40F,
	EventAchievementUnlocked:   0x9B59B6,
	EventTaskCompleted:         0x2ECC71,
	EventHabitCheckin:          0x1ABC9C,
	EventGoalCompleted:         0xE67E22,
	EventShoppingListCompleted: 0x3498DB,
}

const defaultEmbedColor = 0x95A5A6

type DiscordFooter struct {
	Text string `json:"text"`
}

type DiscordEmbed struct {
	Title       string        `json:"title"`
	Description string        `json:"description,omitempty"`
	Color       int           `json:"color"`
	Timestamp   string        `json:"timestamp"`
	Footer      DiscordFooter `json:"footer"`
}

type discordPayload struct {
	Embeds []DiscordEmbed `json:"embeds"`
}

// DiscordChannel posts notifications to a user's Discord webhook
type DiscordChannel struct {
	Client *http.Client
	Log    *zap.Logger
}

func NewDiscordChannel(client *http.Client, log *zap.Logger) *DiscordChannel {
	return &DiscordChannel{Client: client, Log: log}
}

func (d *DiscordChannel) Name() string { return "discord" }

// Deliver is a no-op for users without an enabled webhook
func (d *DiscordChannel) Deliver(ctx context.Context, pref *models.NotificationPreference, n models.Notification) error {
	if pref == nil || !pref.DiscordEnabled || pref.DiscordWebhookURL == "" {
		return nil
	}

	body, err := sonic.Marshal(discordPayload{Embeds: []DiscordEmbed{BuildEmbed(n)}})
	if err != nil {
		return fmt.Errorf("encode embed: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, pref.DiscordWebhookURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.Client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("webhook returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	d.Log.Debug("discord webhook delivered", zap.String("user_id", n.UserID), zap.String("event", n.EventType))
	return nil
}

// BuildEmbed renders a notification as a Discord embed
func BuildEmbed(n models.Notification) DiscordEmbed {
	color, ok := eventColors[n.EventType]
	if !ok {
		color = defaultEmbedColor
	}
	desc := ""
	if n.Body != nil {
		desc = *n.Body
	}
	return DiscordEmbed{
		Title:       n.Title,
		Description: desc,
		Color:       color,
		Timestamp:   n.CreatedAt.UTC().Format(time.RFC3339),
		Footer:      DiscordFooter{Text: "Desperado Club · " + EventLabel(n.EventType)},
	}
}

// EventLabel turns "shopping_list_completed" into "Shopping List Completed"
func EventLabel(eventType string) string {
	return cases.Title(language.English).String(strings.ReplaceAll(eventType, "_", " "))
}
