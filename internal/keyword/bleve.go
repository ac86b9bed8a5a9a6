package keyword

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	blevequery "github.com/blevesearch/bleve/v2/search/query"

	"github.com/gns-pkulkarni/chatbot-saas/internal/models"
)

const (
	fieldTenant  = "tenant_id"
	fieldSource  = "source_id"
	fieldOrdinal = "ordinal"
	fieldContent = "content"
	fieldTitle   = "title"

	// deleteBatchSize bounds how many chunk ids are looked up per delete round.
	deleteBatchSize = 1000
)

// chunkDoc is the document stored per chunk.
type chunkDoc struct {
	TenantID string  `json:"tenant_id"`
	SourceID string  `json:"source_id"`
	Ordinal  float64 `json:"ordinal"`
	Content  string  `json:"content"`
	Title    string  `json:"title"`
}

// BleveIndex implements KeywordIndex using Bleve.
type BleveIndex struct {
	index bleve.Index
}

func newMapping() mapping.IndexMapping {
	im := bleve.NewIndexMapping()

	docMapping := bleve.NewDocumentMapping()
	textFieldMapping := bleve.NewTextFieldMapping()
	// Standard analyzer (lowercase + tokenize, no stemming) so queries match the exact word.
	textFieldMapping.Analyzer = standard.Name
	textFieldMapping.Store = true
	textFieldMapping.IncludeTermVectors = true
	docMapping.AddFieldMappingsAt(fieldContent, textFieldMapping)
	titleMapping := bleve.NewTextFieldMapping()
	titleMapping.Analyzer = standard.Name
	docMapping.AddFieldMappingsAt(fieldTitle, titleMapping)

	idMapping := bleve.NewKeywordFieldMapping()
	idMapping.Store = true
	docMapping.AddFieldMappingsAt(fieldTenant, idMapping)
	docMapping.AddFieldMappingsAt(fieldSource, idMapping)
	docMapping.AddFieldMappingsAt(fieldOrdinal, bleve.NewNumericFieldMapping())

	im.AddDocumentMapping("chunk", docMapping)
	im.DefaultType = "chunk"
	im.DefaultMapping = docMapping
	return im
}

// NewBleveIndex creates or opens a Bleve index at path.
// If you change the index mapping in code, remove the index directory; chunks are mirrored
// again on the next ingestion of each source.
func NewBleveIndex(path string) (*BleveIndex, error) {
	if _, err := os.Stat(path); err == nil {
		index, openErr := bleve.Open(path)
		if openErr != nil {
			return nil, fmt.Errorf("failed to open Bleve index: %w", openErr)
		}
		return &BleveIndex{index: index}, nil
	}

	index, err := bleve.New(path, newMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create Bleve index: %w", err)
	}
	return &BleveIndex{index: index}, nil
}

// NewMemoryBleveIndex creates an index that lives only in memory.
func NewMemoryBleveIndex() (*BleveIndex, error) {
	index, err := bleve.NewMemOnly(newMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create Bleve index: %w", err)
	}
	return &BleveIndex{index: index}, nil
}

// IndexChunks indexes chunks in one batch, replacing any previous entry with the same id.
func (b *BleveIndex) IndexChunks(ctx context.Context, sourceName string, chunks []*models.Chunk) error {
	batch := b.index.NewBatch()
	for _, ch := range chunks {
		doc := chunkDoc{
			TenantID: ch.TenantID,
			SourceID: ch.SourceID,
			Ordinal:  float64(ch.Ordinal),
			Content:  ch.Content,
			// Underscores as spaces so "pricing_faq.pdf" matches "pricing faq".
			Title: strings.ReplaceAll(sourceName, "_", " "),
		}
		if err := batch.Index(ch.ID, doc); err != nil {
			return fmt.Errorf("failed to batch chunk %s: %w", ch.ID, err)
		}
	}
	if err := b.index.Batch(batch); err != nil {
		return fmt.Errorf("failed to index chunks: %w", err)
	}
	return nil
}

// DeleteSource removes every chunk of sourceID.
func (b *BleveIndex) DeleteSource(ctx context.Context, sourceID string) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		q := bleve.NewTermQuery(sourceID)
		q.SetField(fieldSource)
		req := bleve.NewSearchRequest(q)
		req.Size = deleteBatchSize
		res, err := b.index.Search(req)
		if err != nil {
			return fmt.Errorf("Bleve search failed: %w", err)
		}
		if len(res.Hits) == 0 {
			return nil
		}
		batch := b.index.NewBatch()
		for _, hit := range res.Hits {
			batch.Delete(hit.ID)
		}
		if err := b.index.Batch(batch); err != nil {
			return fmt.Errorf("failed to delete chunks of %s: %w", sourceID, err)
		}
	}
}

// Search runs a match query restricted to tenantID and returns up to limit results,
// best score first with ties broken by chunk id.
func (b *BleveIndex) Search(ctx context.Context, tenantID, query string, limit int, opts *SearchOptions) ([]*KeywordResult, error) {
	if tenantID == "" || strings.TrimSpace(query) == "" || limit <= 0 {
		return nil, nil
	}
	tenantQuery := bleve.NewTermQuery(tenantID)
	tenantQuery.SetField(fieldTenant)

	var textQuery blevequery.Query
	if opts != nil && opts.FuzzyEnabled {
		fuzziness := opts.Fuzziness
		if fuzziness <= 0 {
			fuzziness = 1
		}
		textQuery = bleve.NewDisjunctionQuery(
			buildFuzzyQuery(query, fuzziness, fieldContent),
			buildFuzzyQuery(query, fuzziness, fieldTitle),
		)
	} else {
		cq := bleve.NewMatchQuery(query)
		cq.SetField(fieldContent)
		tq := bleve.NewMatchQuery(query)
		tq.SetField(fieldTitle)
		textQuery = bleve.NewDisjunctionQuery(cq, tq)
	}

	req := bleve.NewSearchRequest(bleve.NewConjunctionQuery(tenantQuery, textQuery))
	req.Size = limit
	req.Fields = []string{fieldTenant, fieldSource, fieldOrdinal}
	req.SortBy([]string{"-_score", "_id"})
	req.Highlight = bleve.NewHighlight()
	req.Highlight.AddField(fieldContent)

	results, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("Bleve search failed: %w", err)
	}
	out := make([]*KeywordResult, 0, len(results.Hits))
	for _, hit := range results.Hits {
		// The tenant term query already filters; a hit from another tenant means a bad mapping.
		if t, _ := hit.Fields[fieldTenant].(string); t != tenantID {
			continue
		}
		r := &KeywordResult{ChunkID: hit.ID, Score: hit.Score, Snippets: hit.Fragments[fieldContent]}
		r.SourceID, _ = hit.Fields[fieldSource].(string)
		if ord, ok := hit.Fields[fieldOrdinal].(float64); ok {
			r.Ordinal = int(ord)
		}
		out = append(out, r)
	}
	return out, nil
}

// tokenizeQuery splits query into lowercase terms, filtering out empty strings.
func tokenizeQuery(query string) []string {
	return strings.Fields(strings.ToLower(query))
}

// buildFuzzyQuery creates a disjunction of FuzzyQueries for each term in the query on field.
func buildFuzzyQuery(queryStr string, fuzziness int, field string) blevequery.Query {
	terms := tokenizeQuery(queryStr)
	if len(terms) == 0 {
		mq := bleve.NewMatchQuery(queryStr)
		mq.SetField(field)
		return mq
	}
	queries := make([]blevequery.Query, 0, len(terms))
	for _, term := range terms {
		fq := bleve.NewFuzzyQuery(term)
		fq.SetFuzziness(fuzziness)
		fq.SetField(field)
		queries = append(queries, fq)
	}
	if len(queries) == 1 {
		return queries[0]
	}
	return bleve.NewDisjunctionQuery(queries...)
}

// DocCount returns the total number of chunks in the index.
func (b *BleveIndex) DocCount() (uint64, error) {
	return b.index.DocCount()
}

// Close closes the Bleve index.
func (b *BleveIndex) Close() error {
	return b.index.Close()
}
