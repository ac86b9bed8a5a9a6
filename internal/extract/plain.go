package extract

import (
	"bytes"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// extractPlain returns content as string for declared text kinds.
// Invalid UTF-8 sequences are replaced with the replacement character.
func extractPlain(content []byte) (string, error) {
	content = bytes.TrimPrefix(content, []byte("\xef\xbb\xbf"))
	if !utf8.Valid(content) {
		content = []byte(strings.ToValidUTF8(string(content), "\ufffd"))
	}
	return string(content), nil
}

// maxControlRatio is the share of control characters tolerated in undeclared text.
const maxControlRatio = 0.05

// extractStrictPlain decodes bytes of an unrecognized kind. Unlike extractPlain it refuses
// anything that does not look like text, so binary uploads surface as corrupt.
func extractStrictPlain(content []byte) (string, error) {
	content = bytes.TrimPrefix(content, []byte("\xef\xbb\xbf"))
	if !utf8.Valid(content) {
		return "", fmt.Errorf("content is not valid UTF-8 text")
	}
	if bytes.IndexByte(content, 0) >= 0 {
		return "", fmt.Errorf("content contains NUL bytes")
	}
	var total, control int
	for _, r := range string(content) {
		total++
		if unicode.IsControl(r) && r != '\n' && r != '\r' && r != '\t' {
			control++
		}
	}
	if total > 0 && float64(control)/float64(total) > maxControlRatio {
		return "", fmt.Errorf("content looks binary (%d of %d control characters)", control, total)
	}
	return string(content), nil
}
