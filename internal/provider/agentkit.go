package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"os"
	"strings"
	"time"

	"github.com/vinayprograms/agentkit/credentials"
	"github.com/vinayprograms/agentkit/llm"

	"github.com/vinayprograms/crew/internal/config"
	"github.com/vinayprograms/crew/internal/model"
)

// Agentkit streams through an agentkit llm.Provider.
type Agentkit struct {
	provider llm.Provider
}

// NewAgentkit wraps an agentkit provider.
func NewAgentkit(p llm.Provider) *Agentkit {
	return &Agentkit{provider: p}
}

// Stream sends the request through Chat and yields the reply as a single
// delta. Native tool calls returned by the provider are folded into that
// delta so the reply parser sees one structured document.
func (a *Agentkit) Stream(ctx context.Context, req Request) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		resp, err := a.provider.Chat(ctx, toChatRequest(req))
		if err != nil {
			yield("", err)
			return
		}
		if resp == nil {
			return
		}
		if text := replyText(resp.Content, resp.ToolCalls); text != "" {
			yield(text, nil)
		}
	}
}

func toChatRequest(req Request) llm.ChatRequest {
	var msgs []llm.Message
	if req.SystemPrompt != "" {
		msgs = append(msgs, llm.Message{Role: "system", Content: req.SystemPrompt})
	}
	for _, turn := range req.History {
		msgs = append(msgs, toMessage(turn))
	}
	msgs = append(msgs, toMessage(req.Query))

	var defs []llm.ToolDef
	for _, t := range req.Tools {
		defs = append(defs, llm.ToolDef{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.Parameters,
		})
	}
	return llm.ChatRequest{Messages: msgs, Tools: defs}
}

func toMessage(turn model.Turn) llm.Message {
	role := "assistant"
	if turn.IsUser() {
		role = "user"
	}
	content := turn.Content
	if turn.Type == model.TurnImage && turn.Image != "" {
		content = fmt.Sprintf("%s\n[image: %s]", turn.Content, turn.Image)
	}
	return llm.Message{Role: role, Content: content}
}

// replyText merges native tool calls into content. A JSON object reply
// (bare or fenced) gains them under tool_calls next to any calls it already
// lists; other text becomes the result of a new document.
func replyText(content string, calls []llm.ToolCallResponse) string {
	if len(calls) == 0 {
		return content
	}
	native := make([]interface{}, 0, len(calls))
	for _, tc := range calls {
		args := tc.Args
		if args == nil {
			args = map[string]interface{}{}
		}
		native = append(native, map[string]interface{}{"name": tc.Name, "arguments": args})
	}

	doc, ok := objectDocument(content)
	if !ok {
		doc = map[string]interface{}{}
		if text := strings.TrimSpace(content); text != "" {
			doc["result"] = text
		}
	}
	var merged []interface{}
	for _, key := range []string{"tool_calls", "tool_call"} {
		switch v := doc[key].(type) {
		case []interface{}:
			merged = append(merged, v...)
		case map[string]interface{}:
			merged = append(merged, v)
		}
		delete(doc, key)
	}
	doc["tool_calls"] = append(merged, native...)

	data, err := json.Marshal(doc)
	if err != nil {
		return content
	}
	return string(data)
}

func objectDocument(content string) (map[string]interface{}, bool) {
	text := strings.TrimSpace(content)
	if strings.HasPrefix(text, "```") {
		nl := strings.Index(text, "\n")
		if nl < 0 {
			return nil, false
		}
		text = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(text[nl+1:]), "```"))
	}
	if !strings.HasPrefix(text, "{") {
		return nil, false
	}
	var doc map[string]interface{}
	if err := json.Unmarshal([]byte(text), &doc); err != nil || doc == nil {
		return nil, false
	}
	return doc, true
}

// NewAgentkitFactory builds providers from the [llm] section and named
// profiles, resolving API keys from stored credentials first and the
// environment second.
func NewAgentkitFactory(cfg *config.Config, creds *credentials.Credentials) Factory {
	return func(spec model.ProviderSpec) (LLM, error) {
		llmCfg := cfg.GetProfile(spec.Profile)
		if spec.Model != "" {
			llmCfg.Model = spec.Model
			if spec.Provider == "" {
				llmCfg.Provider = ""
			}
		}
		if spec.Provider != "" {
			llmCfg.Provider = spec.Provider
		}
		if spec.MaxTokens > 0 {
			llmCfg.MaxTokens = spec.MaxTokens
		}
		if spec.BaseURL != "" {
			llmCfg.BaseURL = spec.BaseURL
		}

		providerName := llmCfg.Provider
		if providerName == "" {
			providerName = llm.InferProviderFromModel(llmCfg.Model)
		}
		if providerName == "" && llmCfg.Model == "" {
			return nil, fmt.Errorf("LLM model not configured")
		}

		p, err := llm.NewProvider(llm.ProviderConfig{
			Provider:    providerName,
			Model:       llmCfg.Model,
			APIKey:      apiKey(llmCfg, providerName, creds),
			MaxTokens:   llmCfg.MaxTokens,
			BaseURL:     llmCfg.BaseURL,
			Thinking:    llm.ThinkingConfig{Level: llm.ThinkingLevel(llmCfg.Thinking)},
			RetryConfig: parseRetryConfig(llmCfg.MaxRetries, llmCfg.RetryBackoff),
		})
		if err != nil {
			return nil, fmt.Errorf("creating LLM provider: %w", err)
		}
		return NewAgentkit(p), nil
	}
}

func apiKey(llmCfg config.LLMConfig, providerName string, creds *credentials.Credentials) string {
	if creds != nil {
		if key := creds.GetAPIKey(providerName); key != "" {
			return key
		}
	}
	envVar := llmCfg.APIKeyEnv
	if envVar == "" {
		envVar = config.DefaultAPIKeyEnv(providerName)
	}
	if envVar == "" {
		return ""
	}
	return os.Getenv(envVar)
}

// parseRetryConfig converts config values to RetryConfig.
func parseRetryConfig(maxRetries int, backoffStr string) llm.RetryConfig {
	cfg := llm.RetryConfig{
		MaxRetries: maxRetries,
	}
	if backoffStr != "" {
		if d, err := time.ParseDuration(backoffStr); err == nil {
			cfg.MaxBackoff = d
		}
	}
	return cfg
}
