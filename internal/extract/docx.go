package extract

import (
	"fmt"
	"html"
	"regexp"
	"strings"
)

const (
	docxDefaultDocumentPath = "word/document.xml"
	contentTypesPath        = "[Content_Types].xml"
	docxMainContentType     = "application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"
)

var (
	// docxParagraph matches one <w:p ...>...</w:p> paragraph.
	docxParagraph = regexp.MustCompile(`(?s)<w:p(?:\s[^>]*[^/])?>.*?</w:p>`)
	// docxRun matches <w:t>text</w:t> with any attributes.
	docxRun = regexp.MustCompile(`<w:t(?:\s[^>]*)?>([^<]*)</w:t>`)
	// Override elements list PartName and ContentType in either order.
	docxPartFirst = regexp.MustCompile(`<Override[^>]+PartName="([^"]+)"[^>]+ContentType="` + regexp.QuoteMeta(docxMainContentType) + `"`)
	docxTypeFirst = regexp.MustCompile(`<Override[^>]+ContentType="` + regexp.QuoteMeta(docxMainContentType) + `"[^>]+PartName="([^"]+)"`)
)

// docxMainPart resolves the main document part from [Content_Types].xml.
func docxMainPart(contentTypes []byte) string {
	s := string(contentTypes)
	for _, re := range []*regexp.Regexp{docxPartFirst, docxTypeFirst} {
		if m := re.FindStringSubmatch(s); len(m) > 1 {
			return strings.TrimPrefix(m[1], "/")
		}
	}
	return ""
}

// extractDOCX reads the OOXML main part and returns one line per paragraph. Runs are read
// directly from <w:t> nodes so paragraphs carrying attributes are not skipped.
func extractDOCX(content []byte) (string, error) {
	zr, err := openZip(content)
	if err != nil {
		return "", fmt.Errorf("docx: %w", err)
	}
	docPath := docxDefaultDocumentPath
	ct, err := readZipEntry(zr, contentTypesPath)
	if err != nil {
		return "", fmt.Errorf("docx: %w", err)
	}
	if p := docxMainPart(ct); p != "" {
		docPath = p
	}
	body, err := readZipEntry(zr, docPath)
	if err != nil {
		return "", fmt.Errorf("docx: %w", err)
	}
	if body == nil {
		return "", fmt.Errorf("docx: %s not found", docPath)
	}

	paragraphs := docxParagraph.FindAllString(string(body), -1)
	if len(paragraphs) == 0 {
		paragraphs = []string{string(body)}
	}
	lines := make([]string, 0, len(paragraphs))
	for _, p := range paragraphs {
		var line strings.Builder
		for _, run := range docxRun.FindAllStringSubmatch(p, -1) {
			line.WriteString(run[1])
		}
		if text := strings.TrimSpace(html.UnescapeString(line.String())); text != "" {
			lines = append(lines, text)
		}
	}
	return strings.Join(lines, "\n"), nil
}
