package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Discord embed limits.
const (
	discordFieldValueMax = 1024
	discordMaxFields     = 25
)

// Embed colors per alert event.
var discordColors = map[string]int{
	EventMarketCreated:    0x3498db,
	EventMarketClosed:     0x2ecc71,
	EventEnrichmentFailed: 0xe74c3c,
}

// DiscordSender posts alerts to a Discord webhook as a single embed.
type DiscordSender struct {
	webhookURL string
	client     *http.Client
}

// NewDiscordSender creates a DiscordSender for webhookURL.
func NewDiscordSender(webhookURL string) *DiscordSender {
	return &DiscordSender{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

type discordMessage struct {
	Embeds []discordEmbed `json:"embeds"`
}

type discordEmbed struct {
	Title     string         `json:"title"`
	Color     int            `json:"color,omitempty"`
	Fields    []discordField `json:"fields,omitempty"`
	Footer    *discordFooter `json:"footer,omitempty"`
	Timestamp string         `json:"timestamp,omitempty"`
}

type discordField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type discordFooter struct {
	Text string `json:"text"`
}

// embed renders a as a Discord embed. Short fields sit inline; the question
// and error take a full row. The condition ID goes in the footer.
func embed(a Alert) discordEmbed {
	e := discordEmbed{Title: a.Title, Color: discordColors[a.Event]}
	for _, f := range a.Fields {
		if len(e.Fields) == discordMaxFields {
			break
		}
		value := truncate(f.Value, discordFieldValueMax)
		if value == "" {
			value = "-"
		}
		e.Fields = append(e.Fields, discordField{
			Name:   f.Name,
			Value:  value,
			Inline: len(value) <= 40 && f.Name != "Question" && f.Name != "Error",
		})
	}
	if a.ConditionID != "" {
		e.Footer = &discordFooter{Text: "market " + a.ConditionID}
	}
	if !a.At.IsZero() {
		e.Timestamp = a.At.UTC().Format(time.RFC3339)
	}
	return e
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

// Send posts a. Discord answers 204 on success.
func (d *DiscordSender) Send(ctx context.Context, a Alert) error {
	body, err := json.Marshal(discordMessage{Embeds: []discordEmbed{embed(a)}})
	if err != nil {
		return fmt.Errorf("discord: marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("discord: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("discord: send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("discord: unexpected status %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

// Name returns the sender identifier.
func (d *DiscordSender) Name() string {
	return "discord"
}
