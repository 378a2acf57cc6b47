package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/jonathan/design2code/internal/generation"
	"github.com/jonathan/design2code/internal/types"
)

// DefaultEventInterval is how often an event stream re-reads the status.
const DefaultEventInterval = 2 * time.Second

// SSEWriter helps write Server-Sent Events
type SSEWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// NewSSEWriter creates a new SSE writer
func NewSSEWriter(w http.ResponseWriter) (*SSEWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("streaming not supported")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	return &SSEWriter{w: w, flusher: flusher}, nil
}

// WriteEvent sends an SSE event
func (s *SSEWriter) WriteEvent(event string, data any) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, jsonData); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// WriteError sends an error event
func (s *SSEWriter) WriteError(code, message string) {
	s.WriteEvent("error", map[string]string{"error": code, "message": message}) //nolint:errcheck
}

// WriteComplete sends a completion event
func (s *SSEWriter) WriteComplete(generationID, status string) {
	s.WriteEvent("complete", map[string]string{ //nolint:errcheck
		"generationId": generationID,
		"status":       status,
	})
}

// settled reports whether a status will not change without a new request.
func settled(st *generation.StatusResponse) bool {
	return st.Job == nil || types.IsTerminalJobStatus(st.Job.Status)
}

// handleEvents streams status snapshots of a generation until it settles or
// the client disconnects. Each snapshot goes through the status read, so a
// due job is run just as it would be for a polling client.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	userID, err := requestUser(r)
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	id, err := pathID(r)
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	ctx := r.Context()

	// Ownership is checked before the stream opens so errors keep their status.
	st, err := s.deps.Generations.Status(ctx, userID, id)
	if err != nil {
		s.errorResponse(w, err)
		return
	}

	sse, err := NewSSEWriter(w)
	if err != nil {
		s.errorResponse(w, err)
		return
	}

	interval := s.deps.EventInterval
	if interval <= 0 {
		interval = DefaultEventInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var last []byte
	for {
		snapshot, err := json.Marshal(st)
		if err != nil {
			sse.WriteError(ErrorCode(err), "failed to encode status")
			return
		}
		if !bytes.Equal(snapshot, last) {
			if err := sse.WriteEvent("status", st); err != nil {
				return
			}
			last = snapshot
		}
		if settled(st) {
			sse.WriteComplete(id.String(), st.Generation.Status)
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		st, err = s.deps.Generations.Status(ctx, userID, id)
		if err != nil {
			if ctx.Err() == nil {
				sse.WriteError(ErrorCode(err), "failed to read status")
			}
			return
		}
	}
}
