package extract

import (
	"fmt"
	"html"
	"regexp"
	"strings"
)

const odsContentPath = "content.xml"

var (
	odsRow  = regexp.MustCompile(`(?s)<table:table-row[^>]*>.*?</table:table-row>`)
	odsCell = regexp.MustCompile(`(?s)<table:table-cell(?:\s[^>]*[^/])?>(.*?)</table:table-cell>`)
	odsTag  = regexp.MustCompile(`<[^>]+>`)
)

// extractODS reads content.xml of an OpenDocument spreadsheet, one line per row with
// tab-separated cells, matching the layout produced for xlsx files.
func extractODS(content []byte) (string, error) {
	zr, err := openZip(content)
	if err != nil {
		return "", fmt.Errorf("ods: %w", err)
	}
	doc, err := readZipEntry(zr, odsContentPath)
	if err != nil {
		return "", fmt.Errorf("ods: %w", err)
	}
	if doc == nil {
		return "", fmt.Errorf("ods: %s not found", odsContentPath)
	}
	var b strings.Builder
	for _, row := range odsRow.FindAllString(string(doc), -1) {
		var cells []string
		for _, c := range odsCell.FindAllStringSubmatch(row, -1) {
			cells = append(cells, strings.TrimSpace(html.UnescapeString(odsTag.ReplaceAllString(c[1], " "))))
		}
		line := strings.TrimRight(strings.Join(cells, "\t"), "\t")
		if line == "" {
			continue
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return strings.TrimSpace(b.String()), nil
}
