package document

import "strings"

const (
	MediaPDF  = "application/pdf"
	MediaDOCX = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	MediaText = "text/plain"
	MediaXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	MediaCSV  = "text/csv"
	MediaPNG  = "image/png"
	MediaJPEG = "image/jpeg"
)

// Kind groups media types by how they are parsed and chunked.
type Kind string

const (
	KindUnknown     Kind = ""
	KindPDF         Kind = "pdf"
	KindDocx        Kind = "docx"
	KindText        Kind = "text"
	KindSpreadsheet Kind = "spreadsheet"
	KindImage       Kind = "image"
)

var kinds = map[string]Kind{
	MediaPDF:  KindPDF,
	MediaDOCX: KindDocx,
	MediaText: KindText,
	MediaXLSX: KindSpreadsheet,
	MediaCSV:  KindSpreadsheet,
	MediaPNG:  KindImage,
	MediaJPEG: KindImage,

	"image/jpg": KindImage,
}

var extensions = map[string]string{
	".pdf":  MediaPDF,
	".docx": MediaDOCX,
	".txt":  MediaText,
	".xlsx": MediaXLSX,
	".csv":  MediaCSV,
	".png":  MediaPNG,
	".jpg":  MediaJPEG,
	".jpeg": MediaJPEG,
}

// KindOf returns the kind for a media type, ignoring parameters such as
// "; charset=utf-8".
func KindOf(mediaType string) Kind {
	return kinds[baseType(mediaType)]
}

// DetectMediaType returns declared when it is a known type, otherwise the
// type implied by the filename extension, otherwise declared unchanged.
func DetectMediaType(filename, declared string) string {
	base := baseType(declared)
	if _, ok := kinds[base]; ok {
		return base
	}
	if i := strings.LastIndexByte(filename, '.'); i >= 0 {
		if mt, ok := extensions[strings.ToLower(filename[i:])]; ok {
			return mt
		}
	}
	return base
}

func baseType(mediaType string) string {
	if i := strings.IndexByte(mediaType, ';'); i >= 0 {
		mediaType = mediaType[:i]
	}
	return strings.ToLower(strings.TrimSpace(mediaType))
}
