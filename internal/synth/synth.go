// Package synth turns retrieved chunks and a question into a grounded answer.
package synth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/gns-pkulkarni/chatbot-saas/internal/models"
	"github.com/gns-pkulkarni/chatbot-saas/internal/retrieval"
)

const (
	// UnavailableMessage is answered without calling the model when nothing was retrieved.
	UnavailableMessage = "I'm sorry, I couldn't find any information about that in the knowledge base yet. Please reach out to the site owner directly for help."
	// ApologyMessage replaces the answer when any step of answering fails.
	ApologyMessage = "I'm sorry, I encountered an error while processing your request. Please try again later."
)

const systemPrompt = `You are an intelligent assistant trained to answer questions based ONLY on the given context.
Answer using **Markdown** formatting when possible.

- Think carefully about synonyms or indirect mentions.
- If the context includes the answer in any form, extract and summarize it. Do not invent facts.
- ONLY if it's truly unrelated, politely inform the user that the information is not available and provide the contact details (email, phone number(s), or contact page URL) from the context, so the user can reach out directly.`

const userPrompt = `Context:
%s

Question: %s
Answer:`

// Reason classifies a synthesis failure.
type Reason string

const (
	ReasonProviderUnavailable Reason = "provider_unavailable"
	ReasonTimeout             Reason = "timeout"
)

// Error is returned when the language model cannot produce an answer.
type Error struct {
	Reason Reason
	Err    error
}

func (e *Error) Error() string { return fmt.Sprintf("synthesis %s: %v", e.Reason, e.Err) }

func (e *Error) Unwrap() error { return e.Err }

// Code returns the stage-qualified reason, e.g. "synthesis:timeout".
func (e *Error) Code() string { return "synthesis:" + string(e.Reason) }

// Role of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one prompt message.
type Message struct {
	Role    Role
	Content string
}

// Usage is the token accounting of one generation.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
}

// Generator is the language model capability: messages in, text out.
type Generator interface {
	Generate(ctx context.Context, messages []Message) (string, Usage, error)
}

// Pricing is the USD price per 1000 tokens.
type Pricing struct {
	PromptPer1K     float64
	CompletionPer1K float64
}

// Cost returns the USD cost of u.
func (p Pricing) Cost(u Usage) float64 {
	return float64(u.PromptTokens)/1000*p.PromptPer1K + float64(u.CompletionTokens)/1000*p.CompletionPer1K
}

// Answer is a synthesized answer and what it cost.
type Answer struct {
	Text  string
	Usage Usage
	Cost  float64
	// Generated is false when the answer was produced without calling the model.
	Generated bool
}

// Synthesizer builds prompts from retrieved chunks and calls the Generator.
type Synthesizer struct {
	gen             Generator
	maxContextChars int
	pricing         Pricing
	logger          *zap.Logger
}

// Option configures a Synthesizer.
type Option func(*Synthesizer)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Synthesizer) {
		s.logger = l
	}
}

// WithMaxContextChars bounds the context block, in characters.
func WithMaxContextChars(n int) Option {
	return func(s *Synthesizer) {
		s.maxContextChars = n
	}
}

// WithPricing sets the token prices used for Answer.Cost.
func WithPricing(p Pricing) Option {
	return func(s *Synthesizer) {
		s.pricing = p
	}
}

// NewSynthesizer creates a Synthesizer over gen.
func NewSynthesizer(gen Generator, opts ...Option) *Synthesizer {
	s := &Synthesizer{gen: gen, maxContextChars: 12000, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Synthesize answers query from results, which must be in retrieval order. With no results the
// UnavailableMessage is returned and the model is not called.
func (s *Synthesizer) Synthesize(ctx context.Context, query string, history []models.ChatTurn, results []retrieval.Result) (*Answer, error) {
	if len(results) == 0 {
		return &Answer{Text: UnavailableMessage}, nil
	}
	messages := BuildMessages(query, history, BuildContext(results, s.maxContextChars))
	text, usage, err := s.gen.Generate(ctx, messages)
	if err != nil {
		var se *Error
		if errors.As(err, &se) {
			return nil, err
		}
		return nil, &Error{Reason: ReasonProviderUnavailable, Err: err}
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, &Error{Reason: ReasonProviderUnavailable, Err: fmt.Errorf("empty completion")}
	}
	s.logger.Debug("answer generated",
		zap.Int("chunks", len(results)),
		zap.Int("prompt_tokens", usage.PromptTokens),
		zap.Int("completion_tokens", usage.CompletionTokens))
	return &Answer{Text: text, Usage: usage, Cost: s.pricing.Cost(usage), Generated: true}, nil
}

// BuildContext concatenates chunk contents in order, separated by blank lines, stopping before
// maxChars would be exceeded. The first non-blank chunk is always included, truncated if needed.
func BuildContext(results []retrieval.Result, maxChars int) string {
	var b strings.Builder
	used := 0
	for _, r := range results {
		content := strings.TrimSpace(r.Chunk.Content)
		if content == "" {
			continue
		}
		n := utf8.RuneCountInString(content)
		sep := 0
		if b.Len() > 0 {
			sep = 2
		}
		if maxChars > 0 && used+sep+n > maxChars {
			if b.Len() == 0 {
				b.WriteString(truncateRunes(content, maxChars))
			}
			break
		}
		if sep > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(content)
		used += sep + n
	}
	return b.String()
}

// BuildMessages lays out the instruction, prior turns and the context-bearing question.
func BuildMessages(query string, history []models.ChatTurn, contextBlock string) []Message {
	msgs := make([]Message, 0, 2+2*len(history))
	msgs = append(msgs, Message{Role: RoleSystem, Content: systemPrompt})
	for _, turn := range history {
		if turn.Question == "" || turn.Answer == "" {
			continue
		}
		msgs = append(msgs,
			Message{Role: RoleUser, Content: turn.Question},
			Message{Role: RoleAssistant, Content: turn.Answer})
	}
	msgs = append(msgs, Message{Role: RoleUser, Content: fmt.Sprintf(userPrompt, contextBlock, query)})
	return msgs
}

func truncateRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
