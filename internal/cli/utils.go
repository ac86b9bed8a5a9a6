// Package cli provides output formatting and an HTTP client for the chatbot command.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/gns-pkulkarni/chatbot-saas/internal/models"
	"github.com/gns-pkulkarni/chatbot-saas/pkg/utils"
)

// OutputFormat selects how results are written.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
	// OutputCompact prints one result per line.
	OutputCompact OutputFormat = "compact"
)

// ParseFormat maps a flag value to an OutputFormat.
func ParseFormat(s string) (OutputFormat, error) {
	switch f := OutputFormat(s); f {
	case OutputText, OutputJSON, OutputCompact:
		return f, nil
	}
	return "", fmt.Errorf("unknown output format %q; use text, compact, or json", s)
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// WriteSearchResults writes search results to w in the given format.
func WriteSearchResults(w io.Writer, response *models.SearchResponse, format OutputFormat) error {
	switch format {
	case OutputJSON:
		return writeJSON(w, response)
	case OutputCompact:
		for _, r := range response.Results {
			fmt.Fprintf(w, "%d\t%.4f\t%s#%d\t%s\n", r.Rank, r.Score, r.SourceName, r.Ordinal, oneLine(r.Snippet, 120))
		}
		return nil
	}
	fmt.Fprintf(w, "\nFound %d results in %dms\n\n", response.Total, response.QueryTime)
	for _, r := range response.Results {
		fmt.Fprintf(w, "─────────────────────────────────────────────────────────\n")
		fmt.Fprintf(w, "Rank: %d | Score: %.4f (Keyword: %.4f, Semantic: %.4f)\n",
			r.Rank, r.Score, r.KeywordScore, r.SemanticScore)
		fmt.Fprintf(w, "Source: %s (%s) chunk %d\n", r.SourceName, r.SourceID, r.Ordinal)
		fmt.Fprintf(w, "\n%s\n\n", utils.Truncate(r.Snippet, 200))
	}
	return nil
}

// WriteSources writes a tenant's sources.
func WriteSources(w io.Writer, sources []*models.KnowledgeSource, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, sources)
	}
	for _, s := range sources {
		line := fmt.Sprintf("%s\t%s\t%s\t%d chunks\t%s", s.ID, s.Kind, s.Status, s.ChunkCount, s.Name)
		if s.FailureReason != "" {
			line += "\t" + s.FailureReason
		}
		fmt.Fprintln(w, line)
	}
	return nil
}

// WriteAnswer writes a chat answer.
func WriteAnswer(w io.Writer, resp *models.QueryResponse, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, resp)
	}
	_, err := fmt.Fprintln(w, resp.Answer)
	return err
}

// WriteHistory writes usage records, newest first.
func WriteHistory(w io.Writer, records []*models.QueryRecord, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, records)
	}
	for _, r := range records {
		fmt.Fprintf(w, "%s\t%d+%d tokens\t$%.4f\t%s\n",
			r.CreatedAt.Format("2006-01-02 15:04:05"), r.PromptTokens, r.CompletionTokens, r.Cost, oneLine(r.Query, 80))
	}
	return nil
}

// oneLine collapses whitespace and truncates s to maxLen characters.
func oneLine(s string, maxLen int) string {
	return utils.Truncate(strings.Join(strings.Fields(s), " "), maxLen)
}

// WriteStatus writes a status document as indented JSON.
func WriteStatus(w io.Writer, status interface{}) error {
	return writeJSON(w, status)
}
