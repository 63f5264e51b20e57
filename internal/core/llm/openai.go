package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/markdave123-py/autophile/internal/core"
)

// ErrMissingAPIKey is returned when a hosted provider is selected without a key.
var ErrMissingAPIKey = errors.New("missing API key")

// OpenAIClient talks to an OpenAI-compatible API for both embeddings and
// chat completions.
type OpenAIClient struct {
	baseURL    string
	apiKey     string
	embedModel string
	chatModel  string
	client     *http.Client
	log        *slog.Logger
}

var (
	_ core.EmbeddingProvider = (*OpenAIClient)(nil)
	_ core.LLMProvider       = (*OpenAIClient)(nil)
)

func NewOpenAIClient(baseURL, apiKey, embedModel, chatModel string, logger *slog.Logger) (*OpenAIClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: %w", ErrMissingAPIKey)
	}
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &OpenAIClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		embedModel: embedModel,
		chatModel:  chatModel,
		client:     &http.Client{Timeout: 120 * time.Second},
		log:        logger,
	}, nil
}

type embeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

// EmbedTexts sends one /embeddings request; results carry the API's indices.
func (c *OpenAIClient) EmbedTexts(ctx context.Context, texts []string) ([]core.Embedding, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	body, err := c.post(ctx, "/embeddings", embeddingRequest{Model: c.embedModel, Input: texts})
	if err != nil {
		return nil, err
	}
	defer body.Close()

	var resp embeddingResponse
	if err := json.NewDecoder(body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("decoding embedding response: %w", err)
	}
	out := make([]core.Embedding, len(resp.Data))
	for i, d := range resp.Data {
		out[i] = core.Embedding{Index: d.Index, Vector: d.Embedding}
	}
	return out, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float32       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Stream      bool          `json:"stream,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type chatChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

func (c *OpenAIClient) chatRequest(req core.GenerateRequest, stream bool) chatRequest {
	msgs := make([]chatMessage, 0, len(req.History)+2)
	if req.System != "" {
		msgs = append(msgs, chatMessage{Role: "system", Content: req.System})
	}
	for _, t := range req.History {
		msgs = append(msgs, chatMessage{Role: t.Role, Content: t.Content})
	}
	msgs = append(msgs, chatMessage{Role: "user", Content: req.Prompt})
	return chatRequest{
		Model:       c.chatModel,
		Messages:    msgs,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Stream:      stream,
	}
}

func (c *OpenAIClient) Generate(ctx context.Context, req core.GenerateRequest) (string, error) {
	body, err := c.post(ctx, "/chat/completions", c.chatRequest(req, false))
	if err != nil {
		return "", err
	}
	defer body.Close()

	var resp chatResponse
	if err := json.NewDecoder(body).Decode(&resp); err != nil {
		return "", fmt.Errorf("decoding chat response: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("no choices in response")
	}
	return resp.Choices[0].Message.Content, nil
}

// Stream reads the server-sent event stream and hands each content delta to
// onFragment in arrival order.
func (c *OpenAIClient) Stream(ctx context.Context, req core.GenerateRequest, onFragment func(string) error) error {
	body, err := c.post(ctx, "/chat/completions", c.chatRequest(req, true))
	if err != nil {
		return err
	}
	defer body.Close()

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		data, ok := strings.CutPrefix(line, "data:")
		if !ok {
			continue
		}
		data = strings.TrimSpace(data)
		if data == "[DONE]" {
			return nil
		}
		var chunk chatChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			return fmt.Errorf("decoding stream chunk: %w", err)
		}
		for _, ch := range chunk.Choices {
			if ch.Delta.Content == "" {
				continue
			}
			if err := onFragment(ch.Delta.Content); err != nil {
				return err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading stream: %w", err)
	}
	return nil
}

// post sends a JSON body once and returns the open response body on 200.
// Provider failures are returned to the caller without retry.
func (c *OpenAIClient) post(ctx context.Context, path string, payload any) (io.ReadCloser, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	url := c.baseURL + path

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("request to %s failed: %w", url, err)
	}
	if resp.StatusCode == http.StatusOK {
		return resp.Body, nil
	}

	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	resp.Body.Close()
	c.log.Warn("llm: request failed", "url", url, "status", resp.StatusCode)
	return nil, fmt.Errorf("LLM API error %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
}
