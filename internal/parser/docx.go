package parser

import (
	"bytes"
	"strings"

	"code.sajari.com/docconv/v2"

	"github.com/devstudio-tyler/company-on/internal/document"
	apperrors "github.com/devstudio-tyler/company-on/pkg/errors"
)

func (p *Parser) parseDocx(data []byte) (*Result, error) {
	body, props, err := docconv.ConvertDocx(bytes.NewReader(data))
	if err != nil {
		return nil, apperrors.ParseFailure(err, "reading docx")
	}

	lines := strings.Split(body, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if strings.TrimSpace(line) != "" {
			kept = append(kept, line)
		}
	}
	text := strings.Join(kept, "\n")
	if text == "" {
		return nil, emptyText("docx")
	}

	meta := document.DocxMetadata{
		PageCount:      1,
		Title:          props["title"],
		Author:         props["creator"],
		Subject:        props["subject"],
		Created:        props["created"],
		Modified:       props["modified"],
		LastModifiedBy: props["lastModifiedBy"],
	}
	if kw := props["keywords"]; kw != "" {
		meta.Extra = map[string]any{"keywords": kw}
	}
	return &Result{Text: text, Metadata: meta, PageCount: 1}, nil
}
