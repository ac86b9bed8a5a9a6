package extract

import (
	"fmt"

	"github.com/lu4p/cat"
)

// extractWithCat decodes OpenDocument text and RTF. cat sniffs the actual format from the bytes.
func extractWithCat(content []byte) (string, error) {
	text, err := cat.FromBytes(content)
	if err != nil {
		return "", fmt.Errorf("decode document: %w", err)
	}
	return text, nil
}
