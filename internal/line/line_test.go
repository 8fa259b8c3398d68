package line

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func callbackRequest(body []byte, sig string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/callback", bytes.NewReader(body))
	req.Header.Set(SignatureHeader, sig)
	return req
}

const callbackBody = `{"destination":"x","events":[
	{"type":"message","mode":"active","timestamp":1,"webhookEventId":"e1","deliveryContext":{"isRedelivery":false},
	 "replyToken":"rt1","source":{"type":"user","userId":"U1"},"message":{"id":"1","type":"text","text":"hello"}},
	{"type":"message","mode":"active","timestamp":2,"webhookEventId":"e2","deliveryContext":{"isRedelivery":false},
	 "replyToken":"rt2","source":{"type":"user","userId":"U1"},"message":{"id":"2","type":"sticker","packageId":"1","stickerId":"1"}},
	{"type":"follow","mode":"active","timestamp":3,"webhookEventId":"e3","deliveryContext":{"isRedelivery":false},
	 "replyToken":"rt3","source":{"type":"user","userId":"U2"}}
]}`

func TestParseRequest_TextEventsOnly(t *testing.T) {
	body := []byte(callbackBody)
	events, err := ParseRequest("secret", callbackRequest(body, sign("secret", body)))
	require.NoError(t, err)
	assert.Equal(t, []TextEvent{{UserID: "U1", Text: "hello", ReplyToken: "rt1"}}, events)
}

func TestParseRequest_RejectsSignature(t *testing.T) {
	body := []byte(callbackBody)

	_, err := ParseRequest("secret", callbackRequest(body, sign("other", body)))
	assert.ErrorIs(t, err, ErrInvalidSignature)

	_, err = ParseRequest("secret", callbackRequest(body, ""))
	assert.ErrorIs(t, err, ErrInvalidSignature)

	_, err = ParseRequest("", callbackRequest(body, sign("", body)))
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestParseRequest_MalformedBody(t *testing.T) {
	body := []byte("nope")
	_, err := ParseRequest("secret", callbackRequest(body, sign("secret", body)))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidSignature)
}

func TestClient_ReplyAndPush(t *testing.T) {
	type call struct {
		path string
		auth string
		body map[string]any
	}
	var calls []call
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		calls = append(calls, call{path: r.URL.Path, auth: r.Header.Get("Authorization"), body: body})
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"sentMessages":[]}`))
	}))
	defer server.Close()

	c := NewClient(server.URL+"/", "token", 5*time.Second)
	require.NoError(t, c.Reply(context.Background(), "rt", "處理中"))
	require.NoError(t, c.Push(context.Background(), "U1", strings.Repeat("字", maxTextRunes+10)))

	require.Len(t, calls, 2)
	assert.Equal(t, "/v2/bot/message/reply", calls[0].path)
	assert.Equal(t, "Bearer token", calls[0].auth)
	assert.Equal(t, "rt", calls[0].body["replyToken"])

	assert.Equal(t, "/v2/bot/message/push", calls[1].path)
	assert.Equal(t, "U1", calls[1].body["to"])
	msgs := calls[1].body["messages"].([]any)
	text := msgs[0].(map[string]any)["text"].(string)
	assert.Equal(t, maxTextRunes, len([]rune(text)))
}

func TestClient_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"message":"Invalid reply token"}`))
	}))
	defer server.Close()

	err := NewClient(server.URL, "token", 5*time.Second).Reply(context.Background(), "bad", "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
}

func TestClient_HungCallIsBoundedByTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer server.Close()

	start := time.Now()
	err := NewClient(server.URL, "token", 50*time.Millisecond).Push(context.Background(), "U1", "x")
	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)
}

func TestNewClient_DefaultTimeout(t *testing.T) {
	c := NewClient("https://api.line.me", "token", 0)
	assert.Equal(t, defaultTimeout, c.httpClient.Timeout)
}
