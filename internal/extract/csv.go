package extract

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strings"
)

// extractCSV renders each data row as "header: value" pairs so a chunk keeps column context.
// A file with a single row is rendered as plain comma-separated values.
func extractCSV(content []byte) (string, error) {
	r := csv.NewReader(bytes.NewReader(bytes.TrimPrefix(content, []byte("\xef\xbb\xbf"))))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	var header []string
	var b strings.Builder
	for line := 0; ; line++ {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("read CSV line %d: %w", line+1, err)
		}
		if header == nil {
			header = record
			continue
		}
		pairs := make([]string, 0, len(record))
		for i, v := range record {
			v = strings.TrimSpace(v)
			if v == "" {
				continue
			}
			if i < len(header) && strings.TrimSpace(header[i]) != "" {
				pairs = append(pairs, strings.TrimSpace(header[i])+": "+v)
			} else {
				pairs = append(pairs, v)
			}
		}
		if len(pairs) == 0 {
			continue
		}
		b.WriteString(strings.Join(pairs, ", "))
		b.WriteByte('\n')
	}
	if b.Len() == 0 && header != nil {
		return strings.Join(header, ", "), nil
	}
	return strings.TrimSpace(b.String()), nil
}
