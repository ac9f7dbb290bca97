package fetcher

import (
	"io"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// DecodeCharset returns a reader that converts r from the named charset
// (any WHATWG label such as "windows-1252" or "utf-16le") to UTF-8. An empty
// name or "utf-8" only strips a leading byte order mark.
func DecodeCharset(r io.Reader, name string) (io.Reader, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" || name == "utf-8" || name == "utf8" {
		return transform.NewReader(r, unicode.BOMOverride(unicode.UTF8.NewDecoder())), nil
	}
	enc, err := htmlindex.Get(name)
	if err != nil {
		return nil, eris.Wrapf(err, "charset: unknown encoding %q", name)
	}
	return transform.NewReader(r, unicode.BOMOverride(enc.NewDecoder())), nil
}
