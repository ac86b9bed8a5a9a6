package search

import (
	"errors"
	"fmt"

	"github.com/gns-pkulkarni/chatbot-saas/internal/models"
)

// ErrInvalidQuery wraps validation failures of a search query.
var ErrInvalidQuery = errors.New("invalid search query")

// ProcessQuery validates and applies defaults to the search query.
func ProcessQuery(query *models.SearchQuery) error {
	if err := query.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidQuery, err)
	}
	return nil
}
