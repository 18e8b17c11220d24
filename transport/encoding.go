package transport

import (
	"bytes"
	"strings"
	"unicode/utf8"

	"github.com/pkg/errors"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/simplifiedchinese"
)

var utf8BOM = []byte{0xef, 0xbb, 0xbf}

// decodeListing converts raw remote listing bytes to a string. Fallback order
// is utf-8-sig, utf-8, gbk, gb2312 (GB18030 superset), latin-1; first
// encoding that decodes without replacement characters wins.
func decodeListing(raw []byte) (string, error) {
	if bytes.HasPrefix(raw, utf8BOM) {
		trimmed := raw[len(utf8BOM):]
		if utf8.Valid(trimmed) {
			return string(trimmed), nil
		}
	}
	if utf8.Valid(raw) {
		return string(raw), nil
	}
	for _, enc := range []encoding.Encoding{
		simplifiedchinese.GBK,
		simplifiedchinese.GB18030,
	} {
		out, err := enc.NewDecoder().Bytes(raw)
		if err == nil && !strings.ContainsRune(string(out), utf8.RuneError) {
			return string(out), nil
		}
	}
	out, err := charmap.ISO8859_1.NewDecoder().Bytes(raw)
	if err != nil {
		return "", errors.Wrap(err, "failed to decode listing")
	}
	return string(out), nil
}
