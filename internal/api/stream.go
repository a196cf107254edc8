package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/mattjoyce/plantctl/internal/events"
)

// handleSnapshots handles GET /snapshots. It drains the mirror's outbound
// queue as SSE. The queue has a single consumer, so a second stream is
// refused with 409 while one is open.
func (s *Server) handleSnapshots(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	if !s.snapshotConsumer.CompareAndSwap(false, true) {
		s.writeError(w, http.StatusConflict, "snapshot stream already has a consumer")
		return
	}
	defer s.snapshotConsumer.Store(false)

	startSSE(w)
	flusher.Flush()
	s.logger.Info("snapshot consumer attached", "remote", r.RemoteAddr)
	defer s.logger.Info("snapshot consumer detached", "remote", r.RemoteAddr)

	out := s.mirror.Outbound()
	for {
		waitCtx, cancel := context.WithTimeout(r.Context(), s.config.KeepAlive)
		env, err := out.PeekWait(waitCtx)
		cancel()

		switch {
		case err == nil:
			data, err := json.Marshal(env)
			if err != nil {
				s.logger.Error("failed to encode envelope", "type", env.Type, "error", err)
				out.Pop()
				continue
			}
			// Pop only once the frame is out, so a consumer that drops
			// mid-write leaves the snapshot for the next one.
			if err := writeSSE(w, "", env.Type, data); err != nil {
				return
			}
			flusher.Flush()
			if r.Context().Err() != nil {
				return
			}
			out.Pop()
			continue
		case errors.Is(err, context.DeadlineExceeded) && r.Context().Err() == nil:
			if err := writeKeepAlive(w); err != nil {
				return
			}
		default:
			return
		}
		flusher.Flush()
	}
}

// handleEvents handles GET /events, replaying buffered loop events newer
// than Last-Event-ID before streaming live ones.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	// Subscribe before replaying so nothing published in between is lost.
	ch, cancel := s.events.Subscribe()
	defer cancel()

	startSSE(w)

	lastID := parseLastEventID(r.Header.Get("Last-Event-ID"))
	for _, ev := range s.events.Since(lastID) {
		if err := writeEvent(w, ev); err != nil {
			return
		}
		lastID = ev.ID
	}
	flusher.Flush()

	keepAlive := time.NewTicker(s.config.KeepAlive)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if ev.ID <= lastID {
				continue
			}
			if err := writeEvent(w, ev); err != nil {
				return
			}
			lastID = ev.ID
			flusher.Flush()
		case <-keepAlive.C:
			if err := writeKeepAlive(w); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func startSSE(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
}

func parseLastEventID(v string) int64 {
	if v == "" {
		return 0
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func writeEvent(w io.Writer, ev events.Event) error {
	return writeSSE(w, strconv.FormatInt(ev.ID, 10), ev.Type, ev.Data)
}

// writeSSE writes one frame. data must be single-line JSON.
func writeSSE(w io.Writer, id, eventType string, data []byte) error {
	if id != "" {
		if _, err := fmt.Fprintf(w, "id: %s\n", id); err != nil {
			return err
		}
	}
	if eventType != "" {
		if _, err := fmt.Fprintf(w, "event: %s\n", eventType); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}

func writeKeepAlive(w io.Writer) error {
	_, err := io.WriteString(w, ": keep-alive\n\n")
	return err
}
