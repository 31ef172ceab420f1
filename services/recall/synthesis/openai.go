// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package synthesis

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

const (
	defaultModel       = openai.GPT4oMini
	defaultMaxTokens   = 512
	defaultTemperature = 0.2
)

const systemPrompt = `You are a memory synthesis assistant. You receive items recalled
from multiple memory layers and produce one short, coherent answer to
the user's query. Ground every statement in the recalled material; if
the material does not answer the query, say so plainly.`

// OpenAIConfig configures the OpenAI-backed synthesizer.
type OpenAIConfig struct {
	APIKey string

	// BaseURL overrides the API endpoint, e.g. for a local
	// OpenAI-compatible server. Empty means the public API.
	BaseURL string

	// Model defaults to gpt-4o-mini.
	Model string

	// MaxTokens caps the narrative length. Defaults to 512.
	MaxTokens int
}

// OpenAISynthesizer condenses recalled items through a chat-completion
// model.
//
// # Thread Safety
//
// Safe for concurrent use.
type OpenAISynthesizer struct {
	client    *openai.Client
	model     string
	maxTokens int
}

// NewOpenAISynthesizer creates a synthesizer from cfg.
//
// # Example
//
//	synth, err := synthesis.NewOpenAISynthesizer(synthesis.OpenAIConfig{
//	    APIKey: os.Getenv("OPENAI_API_KEY"),
//	})
func NewOpenAISynthesizer(cfg OpenAIConfig) (*OpenAISynthesizer, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai synthesizer: %w", ErrMissingAPIKey)
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	model := cfg.Model
	if model == "" {
		model = defaultModel
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	return &OpenAISynthesizer{
		client:    openai.NewClientWithConfig(clientCfg),
		model:     model,
		maxTokens: maxTokens,
	}, nil
}

// Synthesize implements Synthesizer.
func (s *OpenAISynthesizer) Synthesize(ctx context.Context, req Request) (string, error) {
	start := time.Now()

	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       s.model,
		MaxTokens:   s.maxTokens,
		Temperature: defaultTemperature,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: buildPrompt(req)},
		},
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyCompletion
	}

	slog.Debug("synthesis completed",
		slog.String("model", s.model),
		slog.Duration("elapsed", time.Since(start)),
		slog.Int("prompt_tokens", resp.Usage.PromptTokens),
		slog.Int("completion_tokens", resp.Usage.CompletionTokens),
	)
	return resp.Choices[0].Message.Content, nil
}

var _ Synthesizer = (*OpenAISynthesizer)(nil)
