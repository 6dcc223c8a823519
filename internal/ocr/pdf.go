package ocr

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/ledongthuc/pdf"
)

// PDFExtractor pulls the embedded text layer out of a PDF instead of paying
// for remote OCR. Pages whose text fails to extract are skipped.
type PDFExtractor struct {
	http *resty.Client
}

func NewPDFExtractor() *PDFExtractor {
	return &PDFExtractor{http: resty.New().SetTimeout(30 * time.Second)}
}

func (e *PDFExtractor) ExtractText(ctx context.Context, docURL string) (string, error) {
	resp, err := e.http.R().SetContext(ctx).Get(docURL)
	if err != nil {
		return "", fmt.Errorf("pdf download failed: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("pdf download failed: status %d", resp.StatusCode())
	}
	return extractPDF(resp.Body())
}

func extractPDF(content []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	for pageNum := 1; pageNum <= reader.NumPage(); pageNum++ {
		page := reader.Page(pageNum)
		if page.V.IsNull() || page.V.Key("Contents").Kind() == pdf.Null {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		sb.WriteString(text)
		sb.WriteString("\n")
	}
	return sb.String(), nil
}
