// Package extract converts uploaded document bytes into plain text.
package extract

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/gns-pkulkarni/chatbot-saas/internal/models"
)

// Separator joins the text of several documents from one upload so that unrelated sections
// never run into each other inside a chunk.
const Separator = "\n\n---\n\n"

// Kind is the declared format of an uploaded document.
type Kind int

const (
	// KindUnknown falls back to a strict plain-text decode.
	KindUnknown Kind = iota
	KindPDF
	KindDOCX
	KindODT
	KindRTF
	KindLegacyDoc
	KindXLSX
	KindLegacyXLS
	KindODS
	KindCSV
	KindText
	KindMarkdown
	numKinds
)

var kindNames = [numKinds]string{
	KindUnknown:   "unknown",
	KindPDF:       "pdf",
	KindDOCX:      "docx",
	KindODT:       "odt",
	KindRTF:       "rtf",
	KindLegacyDoc: "doc",
	KindXLSX:      "xlsx",
	KindLegacyXLS: "xls",
	KindODS:       "ods",
	KindCSV:       "csv",
	KindText:      "txt",
	KindMarkdown:  "md",
}

func (k Kind) String() string {
	if k < 0 || k >= numKinds {
		return "invalid"
	}
	return kindNames[k]
}

var kindByExt = map[string]Kind{
	".pdf":      KindPDF,
	".docx":     KindDOCX,
	".odt":      KindODT,
	".rtf":      KindRTF,
	".doc":      KindLegacyDoc,
	".xlsx":     KindXLSX,
	".xls":      KindLegacyXLS,
	".ods":      KindODS,
	".csv":      KindCSV,
	".txt":      KindText,
	".text":     KindText,
	".md":       KindMarkdown,
	".markdown": KindMarkdown,
}

// KindFromFilename resolves the declared kind from a filename's extension.
func KindFromFilename(name string) Kind {
	if k, ok := kindByExt[strings.ToLower(filepath.Ext(name))]; ok {
		return k
	}
	return KindUnknown
}

type decoder func(content []byte) (string, error)

// decoders is the closed dispatch table. A kind with a nil entry has no decoder and is
// reported as unsupported.
var decoders = [numKinds]decoder{
	KindUnknown:  extractStrictPlain,
	KindPDF:      extractPDF,
	KindDOCX:     extractDOCX,
	KindODT:      extractWithCat,
	KindRTF:      extractWithCat,
	KindXLSX:     extractExcel,
	KindODS:      extractODS,
	KindCSV:      extractCSV,
	KindText:     extractPlain,
	KindMarkdown: extractPlain,
}

// Reason classifies an extraction failure.
type Reason string

const (
	ReasonUnsupported Reason = "unsupported"
	ReasonCorrupt     Reason = "corrupt"
	ReasonEmpty       Reason = "empty"
)

// Error is returned when no decoder produced non-empty text.
type Error struct {
	Kind   Kind
	Reason Reason
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("extraction %s (%s): %v", e.Reason, e.Kind, e.Err)
	}
	return fmt.Sprintf("extraction %s (%s)", e.Reason, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Code returns the stage-qualified reason, e.g. "extraction:corrupt".
func (e *Error) Code() string { return "extraction:" + string(e.Reason) }

// IsReason reports whether err is an extraction error with the given reason.
func IsReason(err error, r Reason) bool {
	var e *Error
	return errors.As(err, &e) && e.Reason == r
}

// Extractor extracts plain text from document bytes.
type Extractor struct{}

// NewExtractor returns a new Extractor.
func NewExtractor() *Extractor {
	return &Extractor{}
}

// Extract decodes content according to kind. The returned text is never empty on success.
func (e *Extractor) Extract(content []byte, kind Kind) (string, error) {
	if kind < 0 || kind >= numKinds {
		return "", &Error{Kind: kind, Reason: ReasonUnsupported}
	}
	decode := decoders[kind]
	if decode == nil {
		return "", &Error{Kind: kind, Reason: ReasonUnsupported, Err: fmt.Errorf("no decoder for %s files", kind)}
	}
	text, err := decode(content)
	if err != nil {
		return "", &Error{Kind: kind, Reason: ReasonCorrupt, Err: err}
	}
	if strings.TrimSpace(text) == "" {
		return "", &Error{Kind: kind, Reason: ReasonEmpty}
	}
	return text, nil
}

// ExtractAll extracts every upload and joins the results with Separator. The first failing
// upload fails the whole batch, with the filename attached.
func (e *Extractor) ExtractAll(uploads []models.Upload) (string, error) {
	if len(uploads) == 0 {
		return "", &Error{Kind: KindUnknown, Reason: ReasonEmpty, Err: fmt.Errorf("no files")}
	}
	parts := make([]string, 0, len(uploads))
	for _, u := range uploads {
		text, err := e.Extract(u.Content, KindFromFilename(u.Filename))
		if err != nil {
			var xe *Error
			if errors.As(err, &xe) {
				return "", &Error{Kind: xe.Kind, Reason: xe.Reason, Err: fmt.Errorf("%s: %w", u.Filename, err)}
			}
			return "", err
		}
		parts = append(parts, strings.TrimSpace(text))
	}
	return strings.Join(parts, Separator), nil
}
