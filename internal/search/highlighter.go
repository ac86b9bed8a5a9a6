package search

import (
	"strings"

	"github.com/gns-pkulkarni/chatbot-saas/pkg/utils"
)

// Highlight returns the first keyword snippet when there is one, otherwise content
// truncated to maxLen characters.
func Highlight(snippets []string, content string, maxLen int) string {
	for _, s := range snippets {
		if s = strings.TrimSpace(s); s != "" {
			return s
		}
	}
	return utils.Truncate(content, maxLen)
}
