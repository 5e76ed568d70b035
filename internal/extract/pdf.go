package extract

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/lu4p/cat"
)

// extractPDF extracts text using ledongthuc/pdf, page by page.
func extractPDF(_ string, content []byte) (string, error) {
	r, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	var buf bytes.Buffer
	numPages := r.NumPage()
	for i := 1; i <= numPages; i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("extract page %d: %w", i, err)
		}
		buf.WriteString(text)
		if i < numPages {
			buf.WriteByte('\n')
		}
	}
	return buf.String(), nil
}

// extractPDFCat is the second backend in the fallback chain. cat passes
// bytes it cannot parse through as plain text, so output that still
// carries the PDF header is the raw file, not extracted text.
func extractPDFCat(path string, _ []byte) (string, error) {
	text, err := cat.File(path)
	if err != nil {
		return "", fmt.Errorf("cat pdf: %w", err)
	}
	if strings.HasPrefix(text, "%PDF-") {
		return "", fmt.Errorf("cat pdf: returned raw file contents")
	}
	return text, nil
}
