package notify

import (
	"context"
	"fmt"

	"github.com/go-resty/resty/v2"
)

// DiscordSender posts to a Discord webhook.
type DiscordSender struct {
	webhookURL string
	http       *resty.Client
}

func NewDiscordSender(webhookURL string) *DiscordSender {
	return &DiscordSender{webhookURL: webhookURL, http: newHTTP("")}
}

// Send posts the message; Discord answers 204 on success.
func (d *DiscordSender) Send(ctx context.Context, title, message string) error {
	return postJSON(ctx, d.http, d.Name(), d.webhookURL, map[string]string{
		"content": fmt.Sprintf("**%s**\n%s", title, message),
	})
}

func (d *DiscordSender) Name() string { return "discord" }
