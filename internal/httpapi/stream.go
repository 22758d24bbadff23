package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"tasktrail.org/internal/audit"
)

// sseWriter frames Server-Sent Events and flushes after each one.
type sseWriter struct {
	w io.Writer
	f http.Flusher
}

func (s sseWriter) comment(text string) error {
	if _, err := fmt.Fprintf(s.w, ": %s\n\n", text); err != nil {
		return err
	}
	s.f.Flush()
	return nil
}

func (s sseWriter) audit(entry audit.Entry) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "id: %s\nevent: audit\ndata: %s\n\n", entry.ID, payload); err != nil {
		return err
	}
	s.f.Flush()
	return nil
}

// streamAuditLog sends new audit entries in the caller's audit scope as
// Server-Sent Events until the client goes away.
func (a *API) streamAuditLog(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	events, err := a.tasks.WatchAuditLogs(ctx, identity(r))
	if err != nil {
		handleError(w, r, err)
		return
	}

	// No write deadline for long-lived streams.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	out := sseWriter{w: w, f: flusher}
	if out.comment("stream started") != nil {
		return
	}

	ping := time.NewTicker(a.heartbeat)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ping.C:
			if out.comment("ping") != nil {
				return
			}
		case entry, open := <-events:
			if !open {
				return
			}
			if err := out.audit(entry); err != nil {
				return
			}
		}
	}
}
