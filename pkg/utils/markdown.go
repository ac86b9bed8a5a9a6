package utils

import (
	"github.com/gomarkdown/markdown"
	"github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"
	"github.com/microcosm-cc/bluemonday"
)

var sanitizer = bluemonday.UGCPolicy()

// RenderMarkdown converts Markdown to sanitized HTML safe to embed in a page.
func RenderMarkdown(md string) string {
	if md == "" {
		return ""
	}
	// parsers keep state, so one is built per call
	p := parser.NewWithExtensions(parser.CommonExtensions | parser.AutoHeadingIDs)
	doc := p.Parse([]byte(md))

	renderer := html.NewRenderer(html.RendererOptions{Flags: html.CommonFlags | html.HrefTargetBlank})
	return string(sanitizer.SanitizeBytes(markdown.Render(doc, renderer)))
}
