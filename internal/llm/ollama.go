package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/turnforge/chatcore/internal/circuitbreaker"
)

// OllamaConfig configures the local NDJSON provider (spec §4.3
// "remote-ollama-like": one JSON object per line, no SSE framing).
type OllamaConfig struct {
	BaseURL string
	Model   string
}

// OllamaClient adapts a local Ollama-shaped /api/chat endpoint, which
// streams one JSON object per line rather than SSE frames, to the
// unified Client façade. No retry: a local daemon either answers or
// the caller should fail fast, so only the circuit breaker classifies
// repeated failures.
type OllamaClient struct {
	cfg  OllamaConfig
	http *circuitbreaker.HTTPWrapper
}

func NewOllamaClient(cfg OllamaConfig, logger *zap.Logger) *OllamaClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OllamaClient{
		cfg:  cfg,
		http: circuitbreaker.NewHTTPWrapper(&http.Client{Timeout: 2 * time.Minute}, "llm-ollama", "llm-client", logger),
	}
}

type ollamaChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaRequest struct {
	Model    string               `json:"model"`
	Messages []ollamaChatMessage  `json:"messages"`
	Stream   bool                 `json:"stream"`
	Format   string               `json:"format,omitempty"`
	Options  ollamaRequestOptions `json:"options,omitempty"`
}

type ollamaRequestOptions struct {
	Temperature float64 `json:"temperature,omitempty"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type ollamaLine struct {
	Message ollamaChatMessage `json:"message"`
	Done    bool              `json:"done"`
}

func (c *OllamaClient) toOllamaMessages(messages []Message, opts Options) []ollamaChatMessage {
	out := make([]ollamaChatMessage, 0, len(messages)+1)
	if opts.SystemPrompt != "" {
		out = append(out, ollamaChatMessage{Role: "system", Content: opts.SystemPrompt})
	}
	for _, m := range messages {
		if m.Role == "system" {
			continue
		}
		out = append(out, ollamaChatMessage{Role: m.Role, Content: m.Content})
	}
	return out
}

func (c *OllamaClient) request(ctx context.Context, messages []Message, opts Options, stream bool) (*http.Response, error) {
	req := ollamaRequest{
		Model:    c.cfg.Model,
		Messages: c.toOllamaMessages(messages, opts),
		Stream:   stream,
		Options: ollamaRequestOptions{
			Temperature: opts.Temperature,
			NumPredict:  opts.MaxTokens,
		},
	}
	if opts.JSONMode {
		req.Format = "json"
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(c.cfg.BaseURL, "/")+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, NewUpstreamError(err.Error())
	}
	if resp.StatusCode >= 400 {
		resp.Body.Close()
		return nil, NewUpstreamError(fmt.Sprintf("llm: ollama returned %d", resp.StatusCode))
	}
	return resp, nil
}

func (c *OllamaClient) Stream(ctx context.Context, messages []Message, opts Options) <-chan Token {
	out := make(chan Token, 16)
	go func() {
		defer close(out)
		ctx, cancel := withTimeout(ctx, opts)
		defer cancel()

		resp, err := c.request(ctx, messages, opts, true)
		if err != nil {
			out <- Token{Err: err, Done: true}
			return
		}
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			select {
			case <-ctx.Done():
				if ctx.Err() == context.DeadlineExceeded {
					out <- Token{Err: ErrTimeout, Done: true}
				}
				return
			default:
			}
			raw := strings.TrimSpace(scanner.Text())
			if raw == "" {
				continue
			}
			var line ollamaLine
			if err := json.Unmarshal([]byte(raw), &line); err != nil {
				continue
			}
			if line.Message.Content != "" {
				out <- Token{Content: line.Message.Content}
			}
			if line.Done {
				out <- Token{Done: true}
				return
			}
		}
		if err := scanner.Err(); err != nil {
			out <- Token{Err: NewUpstreamError(err.Error()), Done: true}
			return
		}
		out <- Token{Done: true}
	}()
	return out
}

func (c *OllamaClient) Complete(ctx context.Context, messages []Message, opts Options) (string, error) {
	ctx, cancel := withTimeout(ctx, opts)
	defer cancel()

	resp, err := c.request(ctx, messages, opts, false)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var line ollamaLine
	if err := json.NewDecoder(resp.Body).Decode(&line); err != nil {
		return "", NewUpstreamError(err.Error())
	}
	return line.Message.Content, nil
}
