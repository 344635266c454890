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

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/turnforge/chatcore/internal/circuitbreaker"
)

// AzureConfig configures the remote-chat provider (spec §4.3
// "remote-chat": POST with incremental server-pushed chunks).
type AzureConfig struct {
	Endpoint       string
	APIKey         string
	DeploymentName string
	APIVersion     string
}

// AzureClient adapts an Azure-OpenAI-shaped chat-completions endpoint
// (SSE-chunked response) to the unified Client façade. Transient
// failures are retried with bounded exponential backoff; the outbound
// call itself goes through the teacher's circuit breaker HTTP wrapper
// so repeated failures trip this client's own "llm-azure" breaker.
type AzureClient struct {
	cfg    AzureConfig
	http   *circuitbreaker.HTTPWrapper
	logger *zap.Logger
}

func NewAzureClient(cfg AzureConfig, logger *zap.Logger) *AzureClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AzureClient{
		cfg:    cfg,
		http:   circuitbreaker.NewHTTPWrapper(&http.Client{Timeout: 2 * time.Minute}, "llm-azure", "llm-client", logger),
		logger: logger,
	}
}

type chatRequest struct {
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature,omitempty"`
	Stream      bool      `json:"stream"`
	JSONMode    bool      `json:"json_mode,omitempty"`
}

func (c *AzureClient) url() string {
	return fmt.Sprintf("%s/openai/deployments/%s/chat/completions?api-version=%s",
		strings.TrimRight(c.cfg.Endpoint, "/"), c.cfg.DeploymentName, c.cfg.APIVersion)
}

func (c *AzureClient) withSystemPrompt(messages []Message, opts Options) []Message {
	if opts.SystemPrompt == "" {
		return messages
	}
	out := make([]Message, 0, len(messages)+1)
	out = append(out, Message{Role: "system", Content: opts.SystemPrompt})
	for _, m := range messages {
		if m.Role == "system" {
			continue
		}
		out = append(out, m)
	}
	return out
}

func (c *AzureClient) doRequest(ctx context.Context, messages []Message, opts Options, stream bool) (*http.Response, error) {
	body, err := json.Marshal(chatRequest{
		Messages:    c.withSystemPrompt(messages, opts),
		MaxTokens:   opts.MaxTokens,
		Temperature: opts.Temperature,
		Stream:      stream,
		JSONMode:    opts.JSONMode,
	})
	if err != nil {
		return nil, err
	}

	var resp *http.Response
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url(), bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("api-key", c.cfg.APIKey)

		r, err := c.http.Do(req)
		if err != nil {
			return err
		}
		if r.StatusCode == http.StatusTooManyRequests || r.StatusCode >= 500 {
			r.Body.Close()
			return fmt.Errorf("llm: upstream returned %d", r.StatusCode)
		}
		if r.StatusCode >= 400 {
			r.Body.Close()
			return backoff.Permanent(fmt.Errorf("llm: upstream returned %d", r.StatusCode))
		}
		resp = r
		return nil
	}

	b := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3)
	if err := backoff.Retry(op, backoff.WithContext(b, ctx)); err != nil {
		return nil, NewUpstreamError(err.Error())
	}
	return resp, nil
}

// sseChunk mirrors the subset of an OpenAI-style streamed chunk this
// façade needs: the incremental content delta and the stop signal.
type sseChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
}

func (c *AzureClient) Stream(ctx context.Context, messages []Message, opts Options) <-chan Token {
	out := make(chan Token, 16)
	go func() {
		defer close(out)
		ctx, cancel := withTimeout(ctx, opts)
		defer cancel()

		resp, err := c.doRequest(ctx, messages, opts, true)
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
			line := strings.TrimSpace(scanner.Text())
			if line == "" || !strings.HasPrefix(line, "data:") {
				continue
			}
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if data == "[DONE]" {
				out <- Token{Done: true}
				return
			}
			var chunk sseChunk
			if err := json.Unmarshal([]byte(data), &chunk); err != nil {
				continue
			}
			for _, ch := range chunk.Choices {
				if ch.Delta.Content != "" {
					out <- Token{Content: ch.Delta.Content}
				}
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

func (c *AzureClient) Complete(ctx context.Context, messages []Message, opts Options) (string, error) {
	ctx, cancel := withTimeout(ctx, opts)
	defer cancel()

	resp, err := c.doRequest(ctx, messages, opts, false)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var parsed struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", NewUpstreamError(err.Error())
	}
	if len(parsed.Choices) == 0 {
		return "", NewUpstreamError("llm: empty completion response")
	}
	return parsed.Choices[0].Message.Content, nil
}
