package extract

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
)

// fallbackDecoder decodes text content that is not valid UTF-8.
type fallbackDecoder struct {
	name string
	enc  encoding.Encoding
}

// fallbackEncodings are the charsets accepted for WithFallbackEncoding.
var fallbackEncodings = map[string]encoding.Encoding{
	"windows-1251": charmap.Windows1251,
	"windows-1252": charmap.Windows1252,
	"latin-1":      charmap.ISO8859_1,
	"iso-8859-1":   charmap.ISO8859_1,
	"koi8-r":       charmap.KOI8R,
	"utf-16le":     unicode.UTF16(unicode.LittleEndian, unicode.UseBOM),
	"utf-16be":     unicode.UTF16(unicode.BigEndian, unicode.UseBOM),
}

// newFallbackDecoder resolves the named charset. Unknown names yield nil,
// which the gateway treats as "no fallback configured".
func newFallbackDecoder(name string) *fallbackDecoder {
	enc, ok := fallbackEncodings[strings.ToLower(name)]
	if !ok {
		return nil
	}
	return &fallbackDecoder{name: name, enc: enc}
}

// decodeText returns content as a string. Valid UTF-8 passes through; other
// content is decoded with the fallback charset, or fails when none is set.
func (g *Gateway) decodeText(content []byte) (string, error) {
	if utf8.Valid(content) {
		return string(content), nil
	}
	if g.fallback == nil {
		return "", fmt.Errorf("content is not valid UTF-8 and no fallback encoding is configured")
	}
	decoded, err := g.fallback.enc.NewDecoder().Bytes(content)
	if err != nil {
		return "", fmt.Errorf("decode as %s: %w", g.fallback.name, err)
	}
	return string(decoded), nil
}
