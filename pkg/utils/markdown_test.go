package utils

import (
	"strings"
	"testing"
)

func TestRenderMarkdown(t *testing.T) {
	if RenderMarkdown("") != "" {
		t.Error("empty input renders empty")
	}

	got := RenderMarkdown("We are **open** nine to five.")
	if !strings.Contains(got, "<strong>open</strong>") {
		t.Errorf("bold not rendered: %q", got)
	}

	got = RenderMarkdown("hi <script>alert(1)</script>")
	if strings.Contains(got, "<script>") {
		t.Errorf("script not stripped: %q", got)
	}

	got = RenderMarkdown("[docs](https://example.com/docs)")
	if !strings.Contains(got, `href="https://example.com/docs"`) {
		t.Errorf("link missing: %q", got)
	}
}
