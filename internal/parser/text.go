package parser

import (
	"bytes"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/korean"

	"github.com/devstudio-tyler/company-on/internal/document"
	apperrors "github.com/devstudio-tyler/company-on/pkg/errors"
)

type namedEncoding struct {
	name string
	enc  encoding.Encoding
}

// Tried in order after UTF-8. x/text's korean.EUCKR is the cp949 code
// page, a superset of EUC-KR, so it covers both.
var fallbackEncodings = []namedEncoding{
	{"cp949", korean.EUCKR},
	{"latin-1", charmap.ISO8859_1},
}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// decodeText returns data as UTF-8 together with the name of the encoding
// that decoded it cleanly. Latin-1 accepts any byte sequence, so the chain
// never fails for non-empty input.
func decodeText(data []byte) (string, string, error) {
	if utf8.Valid(data) {
		return string(bytes.TrimPrefix(data, utf8BOM)), "utf-8", nil
	}
	for _, ne := range fallbackEncodings {
		out, err := ne.enc.NewDecoder().Bytes(data)
		if err != nil {
			continue
		}
		if !utf8.Valid(out) || bytes.ContainsRune(out, utf8.RuneError) {
			continue
		}
		return string(out), ne.name, nil
	}
	return "", "", apperrors.ParseFailure(nil, "could not detect text encoding")
}

func (p *Parser) parseText(data []byte) (*Result, error) {
	text, enc, err := decodeText(data)
	if err != nil {
		return nil, err
	}
	meta := document.TextMetadata{
		Encoding:  enc,
		LineCount: strings.Count(text, "\n") + 1,
		CharCount: utf8.RuneCountInString(text),
	}
	return &Result{Text: text, Metadata: meta, PageCount: 1}, nil
}
