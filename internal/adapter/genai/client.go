package genai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client talks to an OpenAI-compatible chat completions endpoint.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a new generation client. Per-call timeouts come from
// the request settings, not the http.Client.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{},
	}
}

var _ Generator = (*Client)(nil)

type chatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature *float64      `json:"temperature,omitempty"`
	MaxTokens   *int          `json:"max_tokens,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index        int          `json:"index"`
		Message      *chatMessage `json:"message,omitempty"`
		FinishReason string       `json:"finish_reason,omitempty"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage,omitempty"`
}

type errorResponse struct {
	Error *apiError `json:"error"`
}

type apiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
}

// Generate performs one chat completion call. Failures come back as a
// *GenerationError carrying the class the retry policy branches on; latency
// is reported on both paths.
func (c *Client) Generate(ctx context.Context, req *GenerationRequest) (*GenerationResult, error) {
	messages := make([]chatMessage, 0, len(req.Turns)+1)
	if req.System != "" {
		messages = append(messages, chatMessage{Role: "system", Content: req.System})
	}
	for _, turn := range req.Turns {
		messages = append(messages, chatMessage{Role: turn.Role, Content: turn.Text})
	}

	temperature := req.Settings.Temperature
	maxTokens := req.Settings.MaxTokens
	body, err := json.Marshal(&chatCompletionRequest{
		Model:       req.Settings.Model,
		Messages:    messages,
		Temperature: &temperature,
		MaxTokens:   &maxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	callCtx := ctx
	if req.Settings.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, req.Settings.Timeout)
		defer cancel()
	}

	start := time.Now()

	httpReq, err := http.NewRequestWithContext(callCtx, http.MethodPost, c.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &GenerationError{
			Class:   classifyTransportError(err),
			Message: err.Error(),
			Latency: time.Since(start),
		}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	latency := time.Since(start)
	if err != nil {
		return nil, &GenerationError{Class: ClassServer, Message: "failed to read response: " + err.Error(), Latency: latency}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &GenerationError{
			Class:      classifyStatus(resp.StatusCode),
			StatusCode: resp.StatusCode,
			Message:    errorMessage(respBody),
			Latency:    latency,
		}
	}

	var result chatCompletionResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, &GenerationError{Class: ClassServer, StatusCode: resp.StatusCode, Message: "malformed response: " + err.Error(), Latency: latency}
	}
	if len(result.Choices) == 0 || result.Choices[0].Message == nil {
		return nil, &GenerationError{Class: ClassServer, StatusCode: resp.StatusCode, Message: "response contained no choices", Latency: latency}
	}

	out := &GenerationResult{
		Text:    result.Choices[0].Message.Content,
		Latency: latency,
	}
	if result.Usage != nil {
		out.InputUnits = result.Usage.PromptTokens
		out.OutputUnits = result.Usage.CompletionTokens
	}
	return out, nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

// classifyStatus maps an HTTP status onto a failure class. Every
// 4xx-equivalent is terminal except 429.
func classifyStatus(status int) Class {
	switch {
	case status == http.StatusTooManyRequests:
		return ClassRateLimited
	case status >= 400 && status < 500:
		return ClassClient
	default:
		return ClassServer
	}
}

func classifyTransportError(err error) Class {
	if errors.Is(err, context.DeadlineExceeded) {
		return ClassTimeout
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ClassTimeout
	}
	return ClassServer
}

func errorMessage(body []byte) string {
	var errResp errorResponse
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error != nil {
		if errResp.Error.Type != "" {
			return fmt.Sprintf("%s (type: %s)", errResp.Error.Message, errResp.Error.Type)
		}
		return errResp.Error.Message
	}
	return string(body)
}
