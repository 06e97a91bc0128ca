package providers

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
	"time"

	"github.com/shai-run/agentcore/internal/agent"
	"github.com/shai-run/agentcore/internal/agent/toolconv"
	"github.com/shai-run/agentcore/pkg/models"
	openai "github.com/sashabaranov/go-openai"
)

// MistralProvider implements agent.LLMProvider against Mistral's chat
// completions API. Mistral's wire dialect is OpenAI-compatible but departs
// from it in three ways this adapter corrects before any response reaches
// go-openai's decoder or our own strategy layer:
//
//  1. tool_choice="required" is rejected; Mistral's forced-tool-use value
//     is "any". translateToolChoice performs that substitution outbound.
//  2. Both streaming and non-streaming tool_calls entries omit the "type"
//     field go-openai's schema expects. mistralRoundTripper patches it back
//     in at the raw JSON/SSE level before the response body reaches the
//     client, since go-openai exposes no decode hook of its own.
//  3. Mistral (like several chat-only APIs) rejects two consecutive
//     messages of the same role. repairAlternation inserts a minimal
//     placeholder turn between them; it is pure and idempotent, so running
//     it twice on its own output is a no-op.
type MistralProvider struct {
	client       *openai.Client
	defaultModel string
	base         BaseProvider
}

// MistralConfig holds configuration for the Mistral provider.
type MistralConfig struct {
	APIKey       string
	BaseURL      string // defaults to https://api.mistral.ai/v1
	DefaultModel string // defaults to mistral-small-latest
	MaxRetries   int
	RetryDelay   time.Duration
}

// NewMistralProvider creates a new Mistral provider instance.
func NewMistralProvider(cfg MistralConfig) (*MistralProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("mistral: API key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.mistral.ai/v1"
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "mistral-small-latest"
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	clientConfig.BaseURL = cfg.BaseURL
	clientConfig.HTTPClient = &http.Client{
		Transport: &mistralRoundTripper{next: http.DefaultTransport},
	}

	return &MistralProvider{
		client:       openai.NewClientWithConfig(clientConfig),
		defaultModel: cfg.DefaultModel,
		base:         NewBaseProvider("mistral", cfg.MaxRetries, cfg.RetryDelay),
	}, nil
}

// NewMistralProviderFromEnv builds a provider from MISTRAL_API_KEY, mirroring
// the from_env constructor convention used elsewhere in this package. It
// returns nil, nil if the variable is unset, so callers can skip
// registering the provider without treating that as an error.
func NewMistralProviderFromEnv(getenv func(string) string) (*MistralProvider, error) {
	key := getenv("MISTRAL_API_KEY")
	if key == "" {
		return nil, nil
	}
	return NewMistralProvider(MistralConfig{APIKey: key})
}

func (p *MistralProvider) Name() string { return "mistral" }

func (p *MistralProvider) Models() []agent.Model {
	return []agent.Model{
		{ID: "mistral-large-latest", Name: "Mistral Large", ContextSize: 131000, SupportsVision: false},
		{ID: "mistral-small-latest", Name: "Mistral Small", ContextSize: 32000, SupportsVision: false},
		{ID: "pixtral-large-latest", Name: "Pixtral Large", ContextSize: 131000, SupportsVision: true},
		{ID: "codestral-latest", Name: "Codestral", ContextSize: 32000, SupportsVision: false},
	}
}

func (p *MistralProvider) SupportsTools() bool { return true }

// Complete sends a completion request to Mistral and returns a streaming response.
func (p *MistralProvider) Complete(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.CompletionChunk, error) {
	if p.client == nil {
		return nil, NewProviderError("mistral", req.Model, errors.New("mistral client not initialized"))
	}

	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	messages, err := p.convertMessages(req.Messages, req.System)
	if err != nil {
		return nil, fmt.Errorf("mistral: failed to convert messages: %w", err)
	}

	chatReq := openai.ChatCompletionRequest{
		Model:    model,
		Messages: messages,
		Stream:   true,
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	}
	if len(req.Tools) > 0 {
		chatReq.Tools = toolconv.ToOpenAITools(req.Tools)
	}
	if choice := translateToolChoice(req.ToolChoice); choice != nil {
		chatReq.ToolChoice = choice
	}

	var stream *openai.ChatCompletionStream
	lastErr := p.base.Retry(ctx, p.isRetryableError, func() error {
		var err error
		stream, err = p.client.CreateChatCompletionStream(ctx, chatReq)
		return err
	})
	if lastErr != nil {
		wrapped := p.wrapError(lastErr, model)
		if p.isRetryableError(lastErr) {
			return nil, fmt.Errorf("mistral: max retries exceeded: %w", wrapped)
		}
		return nil, wrapped
	}

	chunks := make(chan *agent.CompletionChunk)
	go p.processStream(ctx, stream, chunks, model)
	return chunks, nil
}

// translateToolChoice applies Mistral's "any" forced-tool-use value in
// place of the canonical "required", leaving "auto" and unset untouched.
func translateToolChoice(choice string) any {
	switch choice {
	case "":
		return nil
	case "required":
		return "any"
	default:
		return choice
	}
}

func (p *MistralProvider) processStream(ctx context.Context, stream *openai.ChatCompletionStream, chunks chan<- *agent.CompletionChunk, model string) {
	defer close(chunks)
	defer stream.Close()

	toolCalls := make(map[int]*models.ToolCall)

	for {
		select {
		case <-ctx.Done():
			chunks <- &agent.CompletionChunk{Error: ctx.Err(), Done: true}
			return
		default:
		}

		response, err := stream.Recv()
		if err != nil {
			if err == io.EOF {
				for _, tc := range toolCalls {
					if tc.ID != "" && tc.Name != "" {
						chunks <- &agent.CompletionChunk{ToolCall: tc}
					}
				}
				chunks <- &agent.CompletionChunk{Done: true}
				return
			}
			chunks <- &agent.CompletionChunk{Error: p.wrapError(err, model), Done: true}
			return
		}

		if len(response.Choices) == 0 {
			continue
		}
		delta := response.Choices[0].Delta

		if delta.Content != "" {
			chunks <- &agent.CompletionChunk{Text: delta.Content}
		}

		if len(delta.ToolCalls) > 0 {
			for _, tc := range delta.ToolCalls {
				index := 0
				if tc.Index != nil {
					index = *tc.Index
				}
				if toolCalls[index] == nil {
					toolCalls[index] = &models.ToolCall{}
				}
				if tc.ID != "" {
					toolCalls[index].ID = tc.ID
				}
				if tc.Function.Name != "" {
					toolCalls[index].Name = tc.Function.Name
				}
				if tc.Function.Arguments != "" {
					var currentArgs string
					if toolCalls[index].Arguments != nil {
						currentArgs = string(toolCalls[index].Arguments)
					}
					currentArgs += tc.Function.Arguments
					toolCalls[index].Arguments = json.RawMessage(currentArgs)
				}
			}
		}

		if response.Choices[0].FinishReason == "tool_calls" {
			for _, tc := range toolCalls {
				if tc.ID != "" && tc.Name != "" {
					chunks <- &agent.CompletionChunk{ToolCall: tc}
				}
			}
			toolCalls = make(map[int]*models.ToolCall)
		}
	}
}

// convertMessages converts the canonical trace into OpenAI-shaped messages
// and repairs role alternation, since Mistral (unlike OpenAI) rejects two
// consecutive same-role turns.
func (p *MistralProvider) convertMessages(messages []agent.CompletionMessage, system string) ([]openai.ChatCompletionMessage, error) {
	result := make([]openai.ChatCompletionMessage, 0, len(messages)+1)

	if system != "" {
		result = append(result, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system})
	}

	for _, msg := range messages {
		oaiMsg := openai.ChatCompletionMessage{Role: msg.Role}

		switch msg.Role {
		case "user", "system":
			oaiMsg.Content = msg.Content
		case "assistant":
			oaiMsg.Content = msg.Content
			if len(msg.ToolCalls) > 0 {
				oaiMsg.ToolCalls = make([]openai.ToolCall, len(msg.ToolCalls))
				for i, tc := range msg.ToolCalls {
					oaiMsg.ToolCalls[i] = openai.ToolCall{
						ID:   tc.ID,
						Type: openai.ToolTypeFunction,
						Function: openai.FunctionCall{
							Name:      tc.Name,
							Arguments: string(tc.Arguments),
						},
					}
				}
			}
		case "tool":
			if len(msg.ToolResults) > 0 {
				for _, tr := range msg.ToolResults {
					result = append(result, openai.ChatCompletionMessage{
						Role:       openai.ChatMessageRoleTool,
						Content:    tr.Content,
						ToolCallID: tr.ToolCallID,
					})
				}
				continue
			}
		}

		result = append(result, oaiMsg)
	}

	return repairAlternation(result), nil
}

// repairAlternation inserts a minimal placeholder turn between any two
// consecutive user or assistant messages, using "I understand." to pad a
// missing assistant turn and "Go ahead." to pad a missing user turn.
// System and tool messages never trigger a repair and are passed through
// untouched. Pure and idempotent: its own output contains no adjacent
// same-role user/assistant pair, so a second pass is a no-op.
func repairAlternation(messages []openai.ChatCompletionMessage) []openai.ChatCompletionMessage {
	isChat := func(role string) bool {
		return role == openai.ChatMessageRoleUser || role == openai.ChatMessageRoleAssistant
	}

	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	var lastChatRole string

	for _, msg := range messages {
		if isChat(msg.Role) && lastChatRole == msg.Role {
			if msg.Role == openai.ChatMessageRoleUser {
				out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: "I understand."})
			} else {
				out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: "Go ahead."})
			}
		}
		out = append(out, msg)
		if isChat(msg.Role) {
			lastChatRole = msg.Role
		}
	}
	return out
}

func (p *MistralProvider) isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if providerErr, ok := GetProviderError(err); ok {
		return providerErr.Reason.IsRetryable()
	}
	errMsg := err.Error()
	for _, s := range []string{"rate limit", "429", "500", "502", "503", "504", "timeout", "deadline exceeded"} {
		if contains(errMsg, s) {
			return true
		}
	}
	return false
}

func (p *MistralProvider) wrapError(err error, model string) error {
	if err == nil {
		return nil
	}
	if IsProviderError(err) {
		return err
	}
	return NewProviderError("mistral", model, err)
}

// mistralRoundTripper patches Mistral chat-completion responses to carry
// the "type":"function" field go-openai's tool-call schema expects but
// Mistral omits, in both the non-streaming JSON body and each SSE "data:"
// frame of a streaming response. Any other response (models list, errors,
// non-2xx) passes through untouched.
type mistralRoundTripper struct {
	next http.RoundTripper
}

func (rt *mistralRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := rt.next.RoundTrip(req)
	if err != nil || resp == nil || resp.StatusCode != http.StatusOK {
		return resp, err
	}
	if !strings.HasSuffix(req.URL.Path, "/chat/completions") {
		return resp, nil
	}

	if strings.Contains(resp.Header.Get("Content-Type"), "text/event-stream") {
		resp.Body = patchSSEBody(resp.Body)
		return resp, nil
	}

	body, readErr := io.ReadAll(resp.Body)
	resp.Body.Close()
	if readErr != nil {
		return resp, readErr
	}
	resp.Body = io.NopCloser(bytes.NewReader(patchChatJSON(body)))
	return resp, nil
}

// patchChatJSON injects "type":"function" into every tool_calls entry of a
// non-streaming chat completion response missing it.
func patchChatJSON(body []byte) []byte {
	var doc map[string]any
	if err := json.Unmarshal(body, &doc); err != nil {
		return body
	}
	choices, ok := doc["choices"].([]any)
	if !ok {
		return body
	}
	changed := false
	for _, c := range choices {
		choice, ok := c.(map[string]any)
		if !ok {
			continue
		}
		message, ok := choice["message"].(map[string]any)
		if !ok {
			continue
		}
		if patchToolCalls(message) {
			changed = true
		}
	}
	if !changed {
		return body
	}
	patched, err := json.Marshal(doc)
	if err != nil {
		return body
	}
	return patched
}

// patchSSEBody wraps r so each "data: {...}" frame of a Mistral streaming
// response is patched the same way patchChatJSON patches a full body,
// operating on the delta object instead of message.
func patchSSEBody(r io.ReadCloser) io.ReadCloser {
	pr, pw := io.Pipe()
	go func() {
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 64*1024), 1<<20)
		var werr error
		for scanner.Scan() && werr == nil {
			line := scanner.Text()
			const prefix = "data: "
			if strings.HasPrefix(line, prefix) && !strings.HasPrefix(line, prefix+"[DONE]") {
				line = prefix + string(patchSSEDataLine([]byte(line[len(prefix):])))
			}
			_, werr = pw.Write(append([]byte(line), '\n'))
		}
		if err := scanner.Err(); err != nil && werr == nil {
			werr = err
		}
		r.Close()
		pw.CloseWithError(werr)
	}()
	return pr
}

func patchSSEDataLine(data []byte) []byte {
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return data
	}
	choices, ok := doc["choices"].([]any)
	if !ok {
		return data
	}
	changed := false
	for _, c := range choices {
		choice, ok := c.(map[string]any)
		if !ok {
			continue
		}
		delta, ok := choice["delta"].(map[string]any)
		if !ok {
			continue
		}
		if patchToolCalls(delta) {
			changed = true
		}
	}
	if !changed {
		return data
	}
	patched, err := json.Marshal(doc)
	if err != nil {
		return data
	}
	return patched
}

// patchToolCalls injects "type":"function" into every element of
// container["tool_calls"] missing it, reporting whether it changed anything.
func patchToolCalls(container map[string]any) bool {
	toolCalls, ok := container["tool_calls"].([]any)
	if !ok {
		return false
	}
	changed := false
	for _, tc := range toolCalls {
		call, ok := tc.(map[string]any)
		if !ok {
			continue
		}
		if _, has := call["type"]; !has {
			call["type"] = "function"
			changed = true
		}
	}
	return changed
}
