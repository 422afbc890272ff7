package uploads

import (
	"bytes"
	"io"
	"path"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-faster/errors"
)

// sniffLimit matches mimetype's default read limit.
const sniffLimit = 3072

// Sniff detects the content type of r from its leading bytes. The returned
// reader yields the full original content.
func Sniff(r io.Reader) (*mimetype.MIME, io.Reader, error) {
	head := make([]byte, sniffLimit)
	n, err := io.ReadFull(r, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, nil, errors.Wrap(err, "read upload header")
	}
	head = head[:n]
	return mimetype.Detect(head), io.MultiReader(bytes.NewReader(head), r), nil
}

// Allowed reports whether the sniffed type itself matches any of the
// path.Match patterns. Parent types in the mimetype tree are not consulted:
// text/html is not text/plain.
func Allowed(m *mimetype.MIME, patterns []string) bool {
	if m == nil {
		return false
	}
	name := BaseType(m.String())
	for _, p := range patterns {
		if ok, _ := path.Match(p, name); ok {
			return true
		}
	}
	return false
}

// BaseType strips media type parameters ("text/plain; charset=utf-8").
func BaseType(s string) string {
	base, _, _ := strings.Cut(s, ";")
	return strings.TrimSpace(base)
}
