package handler

import (
	"io"
	"mime"
	"net/http"
	"strconv"

	"github.com/devstudio-tyler/company-on/pkg/logger"
)

// documentID parses the {id} path value and answers 400 when it is not a
// positive integer.
func (h *Handler) documentID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		h.writeError(w, http.StatusBadRequest, "document id must be a positive integer")
		return 0, false
	}
	return id, true
}

func (h *Handler) ListDocuments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, err := optionalInt(q.Get("page"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "page must be an integer")
		return
	}
	pageSize, err := optionalInt(q.Get("page_size"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "page_size must be an integer")
		return
	}
	resp, err := h.documents.List(r.Context(), q.Get("status"), q.Get("search"), page, pageSize)
	if err != nil {
		h.fail(w, r, "listing documents failed", err)
		return
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) GetDocument(w http.ResponseWriter, r *http.Request) {
	id, ok := h.documentID(w, r)
	if !ok {
		return
	}
	info, err := h.documents.Get(r.Context(), id)
	if err != nil {
		h.fail(w, r, "document lookup failed", err)
		return
	}
	h.writeJSON(w, http.StatusOK, info)
}

// DownloadDocument streams the original file as an attachment.
func (h *Handler) DownloadDocument(w http.ResponseWriter, r *http.Request) {
	id, ok := h.documentID(w, r)
	if !ok {
		return
	}
	rc, doc, err := h.documents.Open(r.Context(), id)
	if err != nil {
		h.fail(w, r, "download failed", err)
		return
	}
	defer rc.Close()

	contentType := doc.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": doc.Filename}))
	if doc.FileSize > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(doc.FileSize, 10))
	}
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		logger.FromContext(r.Context()).Warn("download interrupted", "document_id", id, "error", err)
	}
}

// DocumentChunks lists chunks page by page; chunk_index narrows to one.
func (h *Handler) DocumentChunks(w http.ResponseWriter, r *http.Request) {
	id, ok := h.documentID(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	page, err := optionalInt(q.Get("page"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "page must be an integer")
		return
	}
	pageSize, err := optionalInt(q.Get("page_size"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "page_size must be an integer")
		return
	}
	var index *int
	if v := q.Get("chunk_index"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			h.writeError(w, http.StatusBadRequest, "chunk_index must be a non-negative integer")
			return
		}
		index = &n
	}
	resp, err := h.documents.Chunks(r.Context(), id, index, page, pageSize)
	if err != nil {
		h.fail(w, r, "listing chunks failed", err)
		return
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) ReprocessDocument(w http.ResponseWriter, r *http.Request) {
	id, ok := h.documentID(w, r)
	if !ok {
		return
	}
	st, err := h.documents.Reprocess(r.Context(), id)
	if err != nil {
		h.fail(w, r, "reprocess failed", err)
		return
	}
	h.writeJSON(w, http.StatusAccepted, st)
}

func (h *Handler) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	id, ok := h.documentID(w, r)
	if !ok {
		return
	}
	if err := h.documents.Delete(r.Context(), id); err != nil {
		h.fail(w, r, "delete failed", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
