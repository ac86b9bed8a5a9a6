package models

import (
	"testing"
)

func TestQueryRequest_Validate(t *testing.T) {
	tests := []struct {
		name    string
		query   *QueryRequest
		wantErr bool
	}{
		{"empty message", &QueryRequest{TenantID: "t1", Message: ""}, true},
		{"missing tenant", &QueryRequest{Message: "hello"}, true},
		{"valid query", &QueryRequest{TenantID: "t1", Message: "hello"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.query.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestQueryRequest_ValidateTrimsHistory(t *testing.T) {
	q := &QueryRequest{TenantID: "t1", Message: "m"}
	for i := 0; i < 10; i++ {
		q.History = append(q.History, ChatTurn{Question: string(rune('a' + i))})
	}
	if err := q.Validate(); err != nil {
		t.Fatal(err)
	}
	if len(q.History) != maxHistoryTurns {
		t.Fatalf("history len: got %d, want %d", len(q.History), maxHistoryTurns)
	}
	if q.History[len(q.History)-1].Question != "j" {
		t.Errorf("expected most recent turn kept, got %q", q.History[len(q.History)-1].Question)
	}
}

func TestIngestRequest_Validate(t *testing.T) {
	tests := []struct {
		name    string
		req     IngestRequest
		wantErr bool
	}{
		{"url ok", IngestRequest{TenantID: "t", Name: "site", Kind: SourceKindURL, SourceURL: "https://x.test"}, false},
		{"url missing", IngestRequest{TenantID: "t", Name: "site", Kind: SourceKindURL}, true},
		{"doc ok", IngestRequest{TenantID: "t", Name: "doc", Kind: SourceKindDocument, Files: []Upload{{Filename: "a.txt"}}}, false},
		{"doc missing file", IngestRequest{TenantID: "t", Name: "doc", Kind: SourceKindDocument}, true},
		{"bad kind", IngestRequest{TenantID: "t", Name: "x", Kind: "ftp"}, true},
		{"no name", IngestRequest{TenantID: "t", Kind: SourceKindURL, SourceURL: "https://x.test"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
