package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/devstudio-tyler/company-on/internal/ingestion"
	"github.com/devstudio-tyler/company-on/pkg/logger"
)

type streamTiming struct {
	keepAlive time.Duration
	poll      time.Duration
	limit     time.Duration
}

var defaultStreamTiming = streamTiming{
	keepAlive: 15 * time.Second,
	poll:      time.Second,
	limit:     30 * time.Minute,
}

// Stream serves an upload's progress as server-sent events. The current
// status goes out first, then every change until the upload reaches a
// terminal status, the client leaves or the stream limit passes.
func (h *Handler) Stream(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	ctx, cancel := context.WithTimeout(r.Context(), h.stream.limit)
	defer cancel()
	ctx = logger.WithUploadID(ctx, id)
	log := logger.FromContext(ctx)

	// Subscribe before reading the snapshot so nothing published in
	// between is lost.
	var events <-chan ingestion.ProgressEvent
	if h.progress != nil {
		ch, stop, err := h.progress.Subscribe(ctx, id)
		if err != nil {
			log.Warn("progress subscription failed, polling instead", "error", err)
		} else {
			defer stop()
			events = ch
		}
	}

	st, err := h.service.GetProcessingStatus(ctx, id)
	if err != nil {
		h.fail(w, r, "status lookup failed", err)
		return
	}

	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
		log.Warn("clearing write deadline", "error", err)
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	if !h.writeEvent(w, rc, "status", st) || st.Status.Terminal() {
		return
	}
	last, lastMsg := st.Status, st.ErrorMessage

	keepAlive := time.NewTicker(h.stream.keepAlive)
	defer keepAlive.Stop()
	poller := time.NewTicker(h.stream.poll)
	defer poller.Stop()
	poll := poller.C
	if events != nil {
		poll = nil
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.closing:
			return
		case ev, ok := <-events:
			if !ok {
				log.Debug("progress feed closed, polling instead")
				events, poll = nil, poller.C
				continue
			}
			if !h.writeEvent(w, rc, "progress", ev) || ev.Status.Terminal() {
				return
			}
		case <-poll:
			cur, err := h.service.GetProcessingStatus(ctx, id)
			if err != nil {
				log.Warn("polling upload status", "error", err)
				return
			}
			if cur.Status == last && cur.ErrorMessage == lastMsg {
				continue
			}
			last, lastMsg = cur.Status, cur.ErrorMessage
			if !h.writeEvent(w, rc, "status", cur) || cur.Status.Terminal() {
				return
			}
		case <-keepAlive.C:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
		}
	}
}

// CloseStreams ends every open progress stream. http.Server.Shutdown
// does not wait out long-lived responses on its own, so register this with
// RegisterOnShutdown.
func (h *Handler) CloseStreams() {
	h.closeOnce.Do(func() { close(h.closing) })
}

// writeEvent reports false once the client is gone.
func (h *Handler) writeEvent(w http.ResponseWriter, rc *http.ResponseController, name string, data any) bool {
	payload, err := json.Marshal(data)
	if err != nil {
		h.logger.Error("encoding progress event", "error", err)
		return false
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, payload); err != nil {
		return false
	}
	return rc.Flush() == nil
}
