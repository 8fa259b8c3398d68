package ai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

type OllamaProvider struct {
	BaseURL string
	Model   string
	// Stream selects the NDJSON streaming mode of /api/chat. When false,
	// StreamChat issues one non-streaming request and yields a single fragment.
	Stream bool
	Client *http.Client
}

func NewOllamaProvider(baseURL, model string) *OllamaProvider {
	if baseURL == "" {
		baseURL = "http://127.0.0.1:11434"
	}
	if model == "" {
		model = "foodsafety_small"
	}
	return &OllamaProvider{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Model:   model,
		Stream:  true,
		// no global timeout; ctx bounds the whole exchange
		Client: &http.Client{},
	}
}

type ollamaChatReq struct {
	Model    string      `json:"model"`
	Messages []ollamaMsg `json:"messages"`
	Stream   bool        `json:"stream"`
}

type ollamaMsg struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ollamaFrame covers every shape the backend emits: the native chat line
// ({"message":{...}}), the compatibility shape ({"messages":[...]}) and
// end-of-stream framing ({"done":true}).
type ollamaFrame struct {
	Message  *ollamaMsg  `json:"message,omitempty"`
	Messages []ollamaMsg `json:"messages,omitempty"`
	Done     bool        `json:"done"`
	Error    string      `json:"error,omitempty"`
}

type frameKind int

const (
	frameSkip frameKind = iota
	frameFragment
	frameDone
)

// decodeFrame tries message.content, then messages[-1].content, then done framing.
func decodeFrame(line []byte) (frameKind, string, error) {
	var f ollamaFrame
	if err := json.Unmarshal(line, &f); err != nil {
		return frameSkip, "", fmt.Errorf("%w: %v", ErrBackendProtocol, err)
	}
	if f.Error != "" {
		return frameSkip, "", fmt.Errorf("%w: %s", ErrBackendProtocol, f.Error)
	}

	switch {
	case f.Message != nil && f.Message.Content != "":
		return frameFragment, f.Message.Content, nil
	case len(f.Messages) > 0 && f.Messages[len(f.Messages)-1].Content != "":
		return frameFragment, f.Messages[len(f.Messages)-1].Content, nil
	case f.Done:
		return frameDone, "", nil
	case f.Message != nil || len(f.Messages) > 0:
		return frameSkip, "", nil
	}
	return frameSkip, "", fmt.Errorf("%w: unexpected line %s", ErrBackendProtocol, truncate(string(line), 200))
}

func (p *OllamaProvider) newRequest(ctx context.Context, messages []Message, stream bool) (*http.Request, error) {
	if p.Client == nil {
		return nil, errors.New("ollama: http client is nil")
	}

	reqBody := ollamaChatReq{
		Model:    p.Model,
		Stream:   stream,
		Messages: make([]ollamaMsg, 0, len(messages)),
	}
	for _, m := range messages {
		reqBody.Messages = append(reqBody.Messages, ollamaMsg{Role: m.Role, Content: m.Content})
	}

	b, err := json.Marshal(reqBody)
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/api/chat", p.BaseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

func (p *OllamaProvider) do(ctx context.Context, req *http.Request) (*http.Response, error) {
	resp, err := p.Client.Do(req)
	if err != nil {
		return nil, classifyTransportErr(ctx, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
		resp.Body.Close()
		return nil, &HTTPError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	return resp, nil
}

// Chat performs one non-streaming exchange and returns the whole answer.
func (p *OllamaProvider) Chat(ctx context.Context, messages []Message) (string, error) {
	req, err := p.newRequest(ctx, messages, false)
	if err != nil {
		return "", err
	}

	resp, err := p.do(ctx, req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", classifyTransportErr(ctx, err)
	}
	return decodeWhole(body)
}

// decodeWhole reads a non-streaming body. Servers that ignore stream=false answer
// with NDJSON instead, so a failed single-object decode falls back to joining lines.
func decodeWhole(body []byte) (string, error) {
	body = bytes.TrimSpace(body)
	kind, content, err := decodeFrame(body)
	if err == nil {
		if kind == frameFragment {
			return content, nil
		}
		return "", nil
	}
	if !bytes.Contains(body, []byte("\n")) {
		return "", err
	}

	var b strings.Builder
	for _, line := range bytes.Split(body, []byte("\n")) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		kind, content, lerr := decodeFrame(line)
		if lerr != nil {
			return "", lerr
		}
		if kind == frameFragment {
			b.WriteString(content)
		}
		if kind == frameDone {
			break
		}
	}
	return b.String(), nil
}

// StreamChat streams assistant content chunks.
// It returns immediately with two channels; both will be closed when streaming ends.
func (p *OllamaProvider) StreamChat(ctx context.Context, messages []Message) (<-chan string, <-chan error) {
	chunks := make(chan string, 16)
	errs := make(chan error, 1)

	send := func(s string) bool {
		select {
		case chunks <- s:
			return true
		case <-ctx.Done():
			return false
		}
	}

	go func() {
		defer close(chunks)
		defer close(errs)

		if !p.Stream {
			reply, err := p.Chat(ctx, messages)
			if err != nil {
				errs <- err
				return
			}
			if reply != "" && !send(reply) {
				errs <- classifyTransportErr(ctx, ctx.Err())
			}
			return
		}

		req, err := p.newRequest(ctx, messages, true)
		if err != nil {
			errs <- err
			return
		}

		resp, err := p.do(ctx, req)
		if err != nil {
			errs <- err
			return
		}
		defer resp.Body.Close()

		sc := bufio.NewScanner(resp.Body)
		// Increase scanner buffer for long JSON lines.
		buf := make([]byte, 0, 64*1024)
		sc.Buffer(buf, 2*1024*1024)

		for sc.Scan() {
			line := bytes.TrimSpace(sc.Bytes())
			if len(line) == 0 {
				continue
			}

			kind, content, err := decodeFrame(line)
			if err != nil {
				errs <- err
				return
			}
			switch kind {
			case frameFragment:
				if !send(content) {
					errs <- classifyTransportErr(ctx, ctx.Err())
					return
				}
			case frameDone:
				return
			}
		}

		if err := sc.Err(); err != nil {
			errs <- classifyTransportErr(ctx, err)
			return
		}
	}()

	return chunks, errs
}

func truncate(s string, maxChars int) string {
	runes := []rune(s)
	if len(runes) <= maxChars {
		return s
	}
	return string(runes[:maxChars])
}
