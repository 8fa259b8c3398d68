package line

import (
	"net/http"

	"github.com/line/line-bot-sdk-go/v8/linebot/webhook"
)

// ErrInvalidSignature rejects a callback whose X-Line-Signature does not match.
var ErrInvalidSignature = webhook.ErrInvalidSignature

const SignatureHeader = "X-Line-Signature"

// TextEvent is a text message sent by a user.
type TextEvent struct {
	UserID     string
	Text       string
	ReplyToken string
}

// ParseRequest verifies the callback signature and returns its user text
// messages. Other events are dropped.
func ParseRequest(channelSecret string, r *http.Request) ([]TextEvent, error) {
	if channelSecret == "" {
		return nil, ErrInvalidSignature
	}
	cb, err := webhook.ParseRequest(channelSecret, r)
	if err != nil {
		return nil, err
	}
	return TextEvents(cb), nil
}

func TextEvents(cb *webhook.CallbackRequest) []TextEvent {
	var out []TextEvent
	for _, ev := range cb.Events {
		e, ok := ev.(webhook.MessageEvent)
		if !ok {
			continue
		}
		msg, ok := e.Message.(webhook.TextMessageContent)
		if !ok {
			continue
		}
		src, ok := e.Source.(webhook.UserSource)
		if !ok || src.UserId == "" {
			continue
		}
		out = append(out, TextEvent{UserID: src.UserId, Text: msg.Text, ReplyToken: e.ReplyToken})
	}
	return out
}
