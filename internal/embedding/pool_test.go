package embedding

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"
)

type slowEmbedder struct {
	*MockEmbedder
	inFlight, peak atomic.Int32
	failOn         string
}

func (s *slowEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	n := s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	for {
		p := s.peak.Load()
		if n <= p || s.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)
	for _, t := range texts {
		if t == s.failOn {
			return nil, &Error{Reason: ReasonRateLimited, Err: fmt.Errorf("slow down")}
		}
	}
	return s.MockEmbedder.EmbedBatch(ctx, texts)
}

func TestEmbedMany_orderAndConcurrencyBound(t *testing.T) {
	texts := make([]string, 23)
	for i := range texts {
		texts[i] = fmt.Sprintf("text %d", i)
	}
	e := &slowEmbedder{MockEmbedder: NewMockEmbedder(8)}
	got, err := EmbedMany(context.Background(), e, texts, 4, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != len(texts) {
		t.Fatalf("got %d vectors", len(got))
	}
	for i, text := range texts {
		want, _ := e.MockEmbedder.Embed(context.Background(), text)
		if got[i][0] != want[0] || got[i][7] != want[7] {
			t.Errorf("vector %d does not belong to its text", i)
		}
	}
	if p := e.peak.Load(); p > 2 {
		t.Errorf("peak concurrency %d exceeds limit 2", p)
	}
}

func TestEmbedMany_firstErrorWins(t *testing.T) {
	texts := []string{"a", "b", "c", "boom", "e"}
	e := &slowEmbedder{MockEmbedder: NewMockEmbedder(4), failOn: "boom"}
	_, err := EmbedMany(context.Background(), e, texts, 2, 3)
	var ee *Error
	if !errors.As(err, &ee) || ee.Reason != ReasonRateLimited {
		t.Fatalf("want rate_limited, got %v", err)
	}
	if ee.Code() != "embedding:rate_limited" {
		t.Errorf("Code() = %s", ee.Code())
	}
}

func TestEmbedMany_plainErrorBecomesTransient(t *testing.T) {
	e := &failingEmbedder{err: errors.New("boom")}
	_, err := EmbedMany(context.Background(), e, []string{"a"}, 1, 1)
	var ee *Error
	if !errors.As(err, &ee) || ee.Reason != ReasonTransient {
		t.Fatalf("want transient, got %v", err)
	}
}

func TestEmbedMany_empty(t *testing.T) {
	got, err := EmbedMany(context.Background(), NewMockEmbedder(4), nil, 4, 2)
	if err != nil || got != nil {
		t.Errorf("got %v, %v", got, err)
	}
}

type failingEmbedder struct {
	MockEmbedder
	err error
}

func (f *failingEmbedder) EmbedBatch(context.Context, []string) ([][]float32, error) {
	return nil, f.err
}
