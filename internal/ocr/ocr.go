package ocr

import (
	"context"
	"net/url"
	"path"
	"strings"
)

// Service extracts text from a document reachable at a URL.
type Service interface {
	ExtractText(ctx context.Context, docURL string) (string, error)
}

// Dispatch routes extraction by document type: PDFs carry their own text
// layer and are parsed locally, everything else goes to the remote OCR
// service.
type Dispatch struct {
	remote Service
	pdf    Service
}

func NewDispatch(remote, pdf Service) *Dispatch {
	return &Dispatch{remote: remote, pdf: pdf}
}

func (d *Dispatch) ExtractText(ctx context.Context, docURL string) (string, error) {
	if isPDF(docURL) && d.pdf != nil {
		return d.pdf.ExtractText(ctx, docURL)
	}
	return d.remote.ExtractText(ctx, docURL)
}

func isPDF(docURL string) bool {
	u, err := url.Parse(docURL)
	if err != nil {
		return false
	}
	return strings.EqualFold(path.Ext(u.Path), ".pdf")
}
