package extract

import (
	"archive/zip"
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/gns-pkulkarni/chatbot-saas/internal/models"
	"github.com/xuri/excelize/v2"
)

func TestKindFromFilename(t *testing.T) {
	tests := []struct {
		name string
		want Kind
	}{
		{"report.PDF", KindPDF},
		{"notes.docx", KindDOCX},
		{"legacy.doc", KindLegacyDoc},
		{"sheet.xlsx", KindXLSX},
		{"sheet.xls", KindLegacyXLS},
		{"table.ods", KindODS},
		{"letter.odt", KindODT},
		{"letter.rtf", KindRTF},
		{"data.csv", KindCSV},
		{"readme.md", KindMarkdown},
		{"plain.txt", KindText},
		{"mystery.bin", KindUnknown},
		{"noext", KindUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindFromFilename(tt.name); got != tt.want {
				t.Errorf("KindFromFilename(%q) = %s, want %s", tt.name, got, tt.want)
			}
		})
	}
}

func TestExtract_plain(t *testing.T) {
	e := NewExtractor()
	got, err := e.Extract([]byte("Hello world\nLine 2"), KindText)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if got != "Hello world\nLine 2" {
		t.Errorf("got %q", got)
	}
}

func TestExtract_plainStripsBOM(t *testing.T) {
	e := NewExtractor()
	got, err := e.Extract([]byte("\xef\xbb\xbfcaf\xc3\xa9"), KindMarkdown)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if got != "café" {
		t.Errorf("got %q", got)
	}
}

func TestExtract_plainInvalidUTF8(t *testing.T) {
	e := NewExtractor()
	got, err := e.Extract([]byte("hello\x80world"), KindText)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if got != "hello\uFFFDworld" {
		t.Errorf("got %q", got)
	}
}

func TestExtract_unknownKindText(t *testing.T) {
	e := NewExtractor()
	got, err := e.Extract([]byte("just some notes\n"), KindUnknown)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if got != "just some notes\n" {
		t.Errorf("got %q", got)
	}
}

func TestExtract_unknownKindBinaryIsCorrupt(t *testing.T) {
	e := NewExtractor()
	for name, content := range map[string][]byte{
		"invalid utf8": {0xff, 0xfe, 0x00, 0x01, 0x89, 0x50},
		"nul bytes":    []byte("abc\x00def"),
		"control":      []byte("\x01\x02\x03\x04abc"),
	} {
		t.Run(name, func(t *testing.T) {
			_, err := e.Extract(content, KindUnknown)
			if !IsReason(err, ReasonCorrupt) {
				t.Fatalf("want corrupt, got %v", err)
			}
			var xe *Error
			if !errors.As(err, &xe) || xe.Code() != "extraction:corrupt" {
				t.Errorf("code: %v", err)
			}
		})
	}
}

func TestExtract_legacyKindsUnsupported(t *testing.T) {
	e := NewExtractor()
	for _, k := range []Kind{KindLegacyDoc, KindLegacyXLS} {
		_, err := e.Extract([]byte("\xd0\xcf\x11\xe0"), k)
		if !IsReason(err, ReasonUnsupported) {
			t.Errorf("%s: want unsupported, got %v", k, err)
		}
	}
}

func TestExtract_whitespaceIsEmpty(t *testing.T) {
	e := NewExtractor()
	_, err := e.Extract([]byte(" \n\t \n"), KindText)
	if !IsReason(err, ReasonEmpty) {
		t.Fatalf("want empty, got %v", err)
	}
}

func TestExtract_csv(t *testing.T) {
	e := NewExtractor()
	content := []byte("name,price,notes\nWidget,9.99,\nGadget,19.50,blue\n")
	got, err := e.Extract(content, KindCSV)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	want := "name: Widget, price: 9.99\nname: Gadget, price: 19.50, notes: blue"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestExtract_csvHeaderOnly(t *testing.T) {
	e := NewExtractor()
	got, err := e.Extract([]byte("a,b,c\n"), KindCSV)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if got != "a, b, c" {
		t.Errorf("got %q", got)
	}
}

func TestExtract_excel(t *testing.T) {
	f := excelize.NewFile()
	defer f.Close()
	f.SetCellValue("Sheet1", "A1", "Title")
	f.SetCellValue("Sheet1", "A2", "Value 1")
	f.SetCellValue("Sheet1", "B2", "Value 2")
	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}

	e := NewExtractor()
	got, err := e.Extract(buf.Bytes(), KindXLSX)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if got != "Title\nValue 1\tValue 2" {
		t.Errorf("got %q", got)
	}
}

func TestExtract_excelNotZipIsCorrupt(t *testing.T) {
	e := NewExtractor()
	_, err := e.Extract([]byte("not a spreadsheet"), KindXLSX)
	if !IsReason(err, ReasonCorrupt) {
		t.Fatalf("want corrupt, got %v", err)
	}
}

func zipOf(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, body := range files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write([]byte(body)); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func docxBody(paragraphs ...string) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0"?><w:document><w:body>`)
	for _, p := range paragraphs {
		b.WriteString(`<w:p w:rsidR="00A1"><w:r><w:t xml:space="preserve">` + p + `</w:t></w:r></w:p>`)
	}
	b.WriteString(`</w:body></w:document>`)
	return b.String()
}

func TestExtract_docx(t *testing.T) {
	content := zipOf(t, map[string]string{
		"word/document.xml": docxBody("Hello from docx", "Second &amp; last"),
	})
	e := NewExtractor()
	got, err := e.Extract(content, KindDOCX)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if got != "Hello from docx\nSecond & last" {
		t.Errorf("got %q", got)
	}
}

func TestExtract_docxMainPartFromContentTypes(t *testing.T) {
	ct := `<?xml version="1.0"?><Types><Override ContentType="` + docxMainContentType + `" PartName="/word/document2.xml"/></Types>`
	content := zipOf(t, map[string]string{
		contentTypesPath:     ct,
		"word/document2.xml": docxBody("From document2"),
	})
	e := NewExtractor()
	got, err := e.Extract(content, KindDOCX)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if got != "From document2" {
		t.Errorf("got %q", got)
	}
}

func TestExtract_docxMissingDocumentIsCorrupt(t *testing.T) {
	content := zipOf(t, map[string]string{"other.xml": "<x/>"})
	_, err := NewExtractor().Extract(content, KindDOCX)
	if !IsReason(err, ReasonCorrupt) {
		t.Fatalf("want corrupt, got %v", err)
	}
}

func TestExtract_ods(t *testing.T) {
	contentXML := `<office:document-content><office:body><office:spreadsheet><table:table>` +
		`<table:table-row><table:table-cell><text:p>Name</text:p></table:table-cell><table:table-cell><text:p>Qty</text:p></table:table-cell></table:table-row>` +
		`<table:table-row><table:table-cell office:value-type="string"><text:p>Apples</text:p></table:table-cell><table:table-cell/><table:table-cell><text:p>3</text:p></table:table-cell></table:table-row>` +
		`</table:table></office:spreadsheet></office:body></office:document-content>`
	content := zipOf(t, map[string]string{odsContentPath: contentXML})
	got, err := NewExtractor().Extract(content, KindODS)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if got != "Name\tQty\nApples\t3" {
		t.Errorf("got %q", got)
	}
}

func TestExtract_odsContentNotFound(t *testing.T) {
	content := zipOf(t, map[string]string{"meta.xml": "<x/>"})
	_, err := NewExtractor().Extract(content, KindODS)
	if !IsReason(err, ReasonCorrupt) {
		t.Fatalf("want corrupt, got %v", err)
	}
}

func TestExtractAll_joinsWithSeparator(t *testing.T) {
	got, err := NewExtractor().ExtractAll([]models.Upload{
		{Filename: "a.txt", Content: []byte("first\n")},
		{Filename: "b.md", Content: []byte("# second")},
	})
	if err != nil {
		t.Fatalf("ExtractAll: %v", err)
	}
	if got != "first"+Separator+"# second" {
		t.Errorf("got %q", got)
	}
}

func TestExtractAll_firstFailureWins(t *testing.T) {
	_, err := NewExtractor().ExtractAll([]models.Upload{
		{Filename: "ok.txt", Content: []byte("fine")},
		{Filename: "old.doc", Content: []byte("\xd0\xcf\x11\xe0")},
	})
	if !IsReason(err, ReasonUnsupported) {
		t.Fatalf("want unsupported, got %v", err)
	}
	if !strings.Contains(err.Error(), "old.doc") {
		t.Errorf("error should name the file: %v", err)
	}
}

func TestExtractAll_noFiles(t *testing.T) {
	if _, err := NewExtractor().ExtractAll(nil); !IsReason(err, ReasonEmpty) {
		t.Fatalf("want empty, got %v", err)
	}
}
