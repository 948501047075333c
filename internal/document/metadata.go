package document

import (
	"encoding/json"
	"fmt"
)

// Metadata is the format-specific description of a parsed document. Each
// kind has its own struct; Extra carries fields no struct models yet.
type Metadata interface {
	Kind() Kind
	// Fields flattens the metadata, Extra included, for logging and
	// API responses.
	Fields() map[string]any
}

type PDFMetadata struct {
	PageCount        int            `json:"page_count"`
	Title            string         `json:"title,omitempty"`
	Author           string         `json:"author,omitempty"`
	Subject          string         `json:"subject,omitempty"`
	Creator          string         `json:"creator,omitempty"`
	Producer         string         `json:"producer,omitempty"`
	CreationDate     string         `json:"creation_date,omitempty"`
	ModificationDate string         `json:"modification_date,omitempty"`
	Extractor        string         `json:"extractor"`
	Extra            map[string]any `json:"extra,omitempty"`
}

type DocxMetadata struct {
	PageCount      int            `json:"page_count"`
	Title          string         `json:"title,omitempty"`
	Author         string         `json:"author,omitempty"`
	Subject        string         `json:"subject,omitempty"`
	Created        string         `json:"created,omitempty"`
	Modified       string         `json:"modified,omitempty"`
	LastModifiedBy string         `json:"last_modified_by,omitempty"`
	Extra          map[string]any `json:"extra,omitempty"`
}

type TextMetadata struct {
	Encoding  string         `json:"encoding"`
	LineCount int            `json:"line_count"`
	CharCount int            `json:"char_count"`
	Extra     map[string]any `json:"extra,omitempty"`
}

type SpreadsheetMetadata struct {
	Format       string         `json:"format"`
	SheetNames   []string       `json:"sheet_names"`
	TotalRows    int            `json:"total_rows"`
	TotalColumns int            `json:"total_columns"`
	Segments     int            `json:"segments"`
	Encoding     string         `json:"encoding,omitempty"`
	Extra        map[string]any `json:"extra,omitempty"`
}

type ImageMetadata struct {
	Width        int            `json:"width"`
	Height       int            `json:"height"`
	Mode         string         `json:"mode"`
	OCRLanguages []string       `json:"ocr_languages"`
	Extra        map[string]any `json:"extra,omitempty"`
}

func (PDFMetadata) Kind() Kind         { return KindPDF }
func (DocxMetadata) Kind() Kind        { return KindDocx }
func (TextMetadata) Kind() Kind        { return KindText }
func (SpreadsheetMetadata) Kind() Kind { return KindSpreadsheet }
func (ImageMetadata) Kind() Kind       { return KindImage }

func (m PDFMetadata) Fields() map[string]any         { return flatten(m, m.Extra) }
func (m DocxMetadata) Fields() map[string]any        { return flatten(m, m.Extra) }
func (m TextMetadata) Fields() map[string]any        { return flatten(m, m.Extra) }
func (m SpreadsheetMetadata) Fields() map[string]any { return flatten(m, m.Extra) }
func (m ImageMetadata) Fields() map[string]any       { return flatten(m, m.Extra) }

func flatten(v any, extra map[string]any) map[string]any {
	out := make(map[string]any)
	if raw, err := json.Marshal(v); err == nil {
		_ = json.Unmarshal(raw, &out)
	}
	delete(out, "extra")
	for k, x := range extra {
		if _, taken := out[k]; !taken {
			out[k] = x
		}
	}
	return out
}

type envelope struct {
	Kind Kind            `json:"kind"`
	Data json.RawMessage `json:"data"`
}

// MarshalMetadata encodes m with its kind so UnmarshalMetadata can restore
// the concrete type. A nil Metadata encodes as JSON null.
func MarshalMetadata(m Metadata) ([]byte, error) {
	if m == nil {
		return []byte("null"), nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encoding %s metadata: %w", m.Kind(), err)
	}
	return json.Marshal(envelope{Kind: m.Kind(), Data: data})
}

func UnmarshalMetadata(raw []byte) (Metadata, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decoding metadata envelope: %w", err)
	}
	var m Metadata
	switch env.Kind {
	case KindPDF:
		m = decodeInto[PDFMetadata](env.Data)
	case KindDocx:
		m = decodeInto[DocxMetadata](env.Data)
	case KindText:
		m = decodeInto[TextMetadata](env.Data)
	case KindSpreadsheet:
		m = decodeInto[SpreadsheetMetadata](env.Data)
	case KindImage:
		m = decodeInto[ImageMetadata](env.Data)
	default:
		return nil, fmt.Errorf("unknown metadata kind %q", env.Kind)
	}
	if m == nil {
		return nil, fmt.Errorf("decoding %s metadata", env.Kind)
	}
	return m, nil
}

func decodeInto[T Metadata](data json.RawMessage) Metadata {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil
	}
	return v
}
