// Package chat answers tenant questions: embed, retrieve, synthesize, record.
package chat

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/gns-pkulkarni/chatbot-saas/internal/embedding"
	"github.com/gns-pkulkarni/chatbot-saas/internal/entitlement"
	"github.com/gns-pkulkarni/chatbot-saas/internal/models"
	"github.com/gns-pkulkarni/chatbot-saas/internal/retrieval"
	"github.com/gns-pkulkarni/chatbot-saas/internal/synth"
	"github.com/gns-pkulkarni/chatbot-saas/internal/usage"
	"github.com/gns-pkulkarni/chatbot-saas/pkg/utils"
)

// ErrInvalidQuery is returned for a question without a tenant or a message.
var ErrInvalidQuery = errors.New("invalid query")

// Service runs the query path.
type Service struct {
	embedder     embedding.Embedder
	engine       *retrieval.Engine
	synthesizer  *synth.Synthesizer
	recorder     *usage.Recorder
	entitlements entitlement.Provider
	topK         int
	logger       *zap.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) {
		s.logger = l
	}
}

// WithEntitlements requires an active subscription for every question.
func WithEntitlements(p entitlement.Provider) Option {
	return func(s *Service) {
		s.entitlements = p
	}
}

// WithTopK sets how many chunks are retrieved per question.
func WithTopK(k int) Option {
	return func(s *Service) {
		s.topK = k
	}
}

// NewService creates a chat service.
func NewService(emb embedding.Embedder, engine *retrieval.Engine, syn *synth.Synthesizer, rec *usage.Recorder, opts ...Option) *Service {
	s := &Service{
		embedder:    emb,
		engine:      engine,
		synthesizer: syn,
		recorder:    rec,
		topK:        10,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Ask answers req. Validation and entitlement failures are returned as errors; every failure
// after that is logged and answered with synth.ApologyMessage instead.
func (s *Service) Ask(ctx context.Context, req *models.QueryRequest) (*models.QueryResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidQuery, err)
	}
	if s.entitlements != nil {
		snap, err := s.entitlements.Snapshot(ctx, req.TenantID)
		if err != nil {
			return nil, fmt.Errorf("failed to read entitlements: %w", err)
		}
		if err := entitlement.CheckQuery(snap); err != nil {
			return nil, err
		}
	}

	answer, err := s.answer(ctx, req)
	if err != nil {
		s.logger.Error("query failed",
			zap.String("tenant", req.TenantID),
			zap.String("query", utils.Truncate(req.Message, 80)),
			zap.Error(err))
		return respond(synth.ApologyMessage), nil
	}

	s.recorder.Record(ctx, models.QueryRecord{
		TenantID:         req.TenantID,
		Query:            req.Message,
		Answer:           answer.Text,
		PromptTokens:     answer.Usage.PromptTokens,
		CompletionTokens: answer.Usage.CompletionTokens,
		Cost:             answer.Cost,
	})
	return respond(answer.Text), nil
}

func (s *Service) answer(ctx context.Context, req *models.QueryRequest) (*synth.Answer, error) {
	vec, err := s.embedder.Embed(ctx, req.Message)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	results, err := s.engine.Retrieve(ctx, req.TenantID, vec, s.topK)
	if err != nil {
		return nil, fmt.Errorf("retrieve: %w", err)
	}
	return s.synthesizer.Synthesize(ctx, req.Message, req.History, results)
}

// History returns the tenant's recent questions and answers, newest first.
func (s *Service) History(ctx context.Context, tenantID string, limit int) ([]*models.QueryRecord, error) {
	return s.recorder.History(ctx, tenantID, limit)
}

func respond(text string) *models.QueryResponse {
	return &models.QueryResponse{Answer: text, AnswerHTML: utils.RenderMarkdown(text)}
}
