package extract

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/ledongthuc/pdf"
	"golang.org/x/sync/errgroup"
)

const (
	fragmentSeparator = " "
	pageSeparator     = "\n\n"
)

// Parser opens raw PDF bytes as a paged document.
type Parser interface {
	Parse(content []byte) (Document, error)
}

// Document exposes the page count and per-page text retrieval of a parsed PDF.
// Pages are numbered from 1.
type Document interface {
	NumPages() int
	PageFragments(ctx context.Context, page int) ([]string, error)
}

// PDF extracts the text of every page. All pages are requested concurrently;
// each page's fragments are joined with a space and the pages are joined with a
// blank line in page order, whatever order the requests complete in.
func (e *Extractor) PDF(ctx context.Context, content []byte) (string, error) {
	doc, err := e.parser.Parse(content)
	if err != nil {
		return "", err
	}
	numPages := doc.NumPages()
	pages := make([]string, numPages)
	g, gctx := errgroup.WithContext(ctx)
	for page := 1; page <= numPages; page++ {
		page := page
		g.Go(func() error {
			fragments, err := doc.PageFragments(gctx, page)
			if err != nil {
				return fmt.Errorf("page %d: %w", page, err)
			}
			pages[page-1] = strings.Join(fragments, fragmentSeparator)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return "", err
	}
	return strings.Join(pages, pageSeparator), nil
}

// LedongthucParser parses PDFs with github.com/ledongthuc/pdf.
type LedongthucParser struct{}

// Parse opens content as a PDF.
func (LedongthucParser) Parse(content []byte) (doc Document, err error) {
	defer func() {
		if r := recover(); r != nil {
			doc, err = nil, fmt.Errorf("malformed PDF: %v", r)
		}
	}()
	r, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, err
	}
	return &ledongthucDocument{reader: r}, nil
}

// ledongthucDocument serializes access to the reader; the library keeps no
// guarantees about concurrent page decoding.
type ledongthucDocument struct {
	mu     sync.Mutex
	reader *pdf.Reader
}

func (d *ledongthucDocument) NumPages() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.reader.NumPage()
}

// PageFragments returns one fragment per text row of the page.
func (d *ledongthucDocument) PageFragments(ctx context.Context, page int) (fragments []string, err error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	defer func() {
		if r := recover(); r != nil {
			fragments, err = nil, fmt.Errorf("malformed page content: %v", r)
		}
	}()
	p := d.reader.Page(page)
	if p.V.IsNull() {
		return nil, nil
	}
	rows, err := p.GetTextByRow()
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		var b strings.Builder
		for _, t := range row.Content {
			b.WriteString(t.S)
		}
		if b.Len() > 0 {
			fragments = append(fragments, b.String())
		}
	}
	return fragments, nil
}
