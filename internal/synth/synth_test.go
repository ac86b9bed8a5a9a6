package synth

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/gns-pkulkarni/chatbot-saas/internal/models"
	"github.com/gns-pkulkarni/chatbot-saas/internal/retrieval"
)

type fakeGenerator struct {
	calls    int
	messages []Message
	text     string
	usage    Usage
	err      error
}

func (f *fakeGenerator) Generate(_ context.Context, messages []Message) (string, Usage, error) {
	f.calls++
	f.messages = messages
	return f.text, f.usage, f.err
}

func results(contents ...string) []retrieval.Result {
	out := make([]retrieval.Result, len(contents))
	for i, c := range contents {
		out[i] = retrieval.Result{Chunk: &models.Chunk{ID: c, Ordinal: i, Content: c}, Score: 1 - float64(i)/10}
	}
	return out
}

func TestSynthesize_emptyResultsSkipsGeneration(t *testing.T) {
	gen := &fakeGenerator{text: "should not be used"}
	ans, err := NewSynthesizer(gen).Synthesize(context.Background(), "hours?", nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if gen.calls != 0 {
		t.Errorf("generator called %d times", gen.calls)
	}
	if ans.Text != UnavailableMessage || ans.Generated || ans.Usage != (Usage{}) || ans.Cost != 0 {
		t.Errorf("answer = %+v", ans)
	}
}

func TestSynthesize_promptAndCost(t *testing.T) {
	gen := &fakeGenerator{text: "  We open at **9am**.  ", usage: Usage{PromptTokens: 2000, CompletionTokens: 500}}
	s := NewSynthesizer(gen, WithPricing(Pricing{PromptPer1K: 0.0025, CompletionPer1K: 0.01}))
	history := []models.ChatTurn{{Question: "hi", Answer: "hello"}, {Question: "", Answer: "dropped"}}

	ans, err := s.Synthesize(context.Background(), "When do you open?", history, results("Open 9am to 5pm.", "Call 555-0100."))
	if err != nil {
		t.Fatal(err)
	}
	if ans.Text != "We open at **9am**." || !ans.Generated {
		t.Errorf("answer = %+v", ans)
	}
	if math.Abs(ans.Cost-0.01) > 1e-9 {
		t.Errorf("cost = %f, want 0.01", ans.Cost)
	}

	if len(gen.messages) != 4 {
		t.Fatalf("want system, 1 history pair, question; got %d messages", len(gen.messages))
	}
	if gen.messages[0].Role != RoleSystem || !strings.Contains(gen.messages[0].Content, "ONLY on the given context") {
		t.Errorf("system prompt = %+v", gen.messages[0])
	}
	last := gen.messages[3].Content
	if !strings.Contains(last, "Open 9am to 5pm.\n\nCall 555-0100.") || !strings.HasSuffix(last, "Question: When do you open?\nAnswer:") {
		t.Errorf("user prompt = %q", last)
	}
}

func TestSynthesize_errors(t *testing.T) {
	ctx := context.Background()

	_, err := NewSynthesizer(&fakeGenerator{err: &Error{Reason: ReasonTimeout, Err: context.DeadlineExceeded}}).
		Synthesize(ctx, "q", nil, results("c"))
	var se *Error
	if !errors.As(err, &se) || se.Reason != ReasonTimeout || se.Code() != "synthesis:timeout" {
		t.Errorf("want timeout, got %v", err)
	}

	_, err = NewSynthesizer(&fakeGenerator{err: errors.New("boom")}).Synthesize(ctx, "q", nil, results("c"))
	if !errors.As(err, &se) || se.Reason != ReasonProviderUnavailable {
		t.Errorf("want provider_unavailable, got %v", err)
	}

	_, err = NewSynthesizer(&fakeGenerator{text: "   "}).Synthesize(ctx, "q", nil, results("c"))
	if !errors.As(err, &se) || se.Reason != ReasonProviderUnavailable {
		t.Errorf("empty completion: want provider_unavailable, got %v", err)
	}
}

func TestBuildContext_bounded(t *testing.T) {
	r := results("aaaa", "bbbb", "cccc")
	tests := []struct {
		max  int
		want string
	}{
		{0, "aaaa\n\nbbbb\n\ncccc"},
		{100, "aaaa\n\nbbbb\n\ncccc"},
		{10, "aaaa\n\nbbbb"},
		{9, "aaaa"},
		{2, "aa"},
	}
	for _, tt := range tests {
		if got := BuildContext(r, tt.max); got != tt.want {
			t.Errorf("BuildContext(max=%d) = %q, want %q", tt.max, got, tt.want)
		}
	}
	if got := BuildContext(results("héllo wörld"), 4); got != "héll" {
		t.Errorf("rune truncation = %q", got)
	}
	if got := BuildContext(results("  ", "abcdef", "gh"), 3); got != "abc" {
		t.Errorf("blank lead chunk: got %q, want %q", got, "abc")
	}
}
