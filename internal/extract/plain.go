package extract

import (
	"fmt"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// Plain returns content decoded the way a browser reads a text file: UTF-8
// unless a byte order mark says otherwise, with the mark removed. Each
// invalid sequence becomes one replacement character. Nothing is trimmed.
func (e *Extractor) Plain(content []byte) (string, error) {
	dec := unicode.BOMOverride(unicode.UTF8.NewDecoder())
	out, _, err := transform.Bytes(dec, content)
	if err != nil {
		return "", fmt.Errorf("decode text: %w", err)
	}
	return string(out), nil
}
