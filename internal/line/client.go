// Package line wraps the LINE Messaging API SDK: text reply and push for the
// chat service, and verified parsing of webhook callbacks.
package line

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/line/line-bot-sdk-go/v8/linebot/messaging_api"
)

const (
	// maxTextRunes is the LINE limit for one text message.
	maxTextRunes   = 5000
	defaultTimeout = 10 * time.Second
)

type Client struct {
	apiBase     string
	accessToken string
	httpClient  *http.Client
}

// NewClient creates a client for apiBase (e.g. "https://api.line.me"). timeout
// bounds each API call; zero means 10s.
func NewClient(apiBase, accessToken string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		apiBase:     strings.TrimRight(apiBase, "/"),
		accessToken: accessToken,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// api builds a fresh SDK client per call: WithContext mutates the client it is
// called on.
func (c *Client) api(ctx context.Context) (*messaging_api.MessagingApiAPI, error) {
	bot, err := messaging_api.NewMessagingApiAPI(c.accessToken,
		messaging_api.WithHTTPClient(c.httpClient),
		messaging_api.WithEndpoint(c.apiBase),
	)
	if err != nil {
		return nil, fmt.Errorf("line client: %w", err)
	}
	return bot.WithContext(ctx), nil
}

func textMessages(text string) []messaging_api.MessageInterface {
	return []messaging_api.MessageInterface{
		messaging_api.TextMessage{Text: truncate(text, maxTextRunes)},
	}
}

// Reply answers an inbound event through its one-shot reply token.
func (c *Client) Reply(ctx context.Context, replyToken, text string) error {
	bot, err := c.api(ctx)
	if err != nil {
		return err
	}
	if _, err := bot.ReplyMessage(&messaging_api.ReplyMessageRequest{
		ReplyToken: replyToken,
		Messages:   textMessages(text),
	}); err != nil {
		return fmt.Errorf("line reply: %w", err)
	}
	return nil
}

// Push sends text to userID at any time.
func (c *Client) Push(ctx context.Context, userID, text string) error {
	bot, err := c.api(ctx)
	if err != nil {
		return err
	}
	if _, err := bot.PushMessage(&messaging_api.PushMessageRequest{
		To:       userID,
		Messages: textMessages(text),
	}, ""); err != nil {
		return fmt.Errorf("line push to %s: %w", userID, err)
	}
	return nil
}

func truncate(s string, maxChars int) string {
	runes := []rune(s)
	if len(runes) <= maxChars {
		return s
	}
	return string(runes[:maxChars])
}
