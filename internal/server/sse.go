package server

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/spetersoncode/liteagent/event"
)

var errStreamingUnsupported = errors.New("streaming not supported")

// sseWriter serializes frames and heartbeats onto one response.
type sseWriter struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
	stop    chan struct{}
	wg      sync.WaitGroup
}

// startSSE sets the streaming headers and starts heartbeats every interval
// (none when interval is zero). Callers must Close the writer.
func startSSE(w http.ResponseWriter, interval time.Duration) (*sseWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, errStreamingUnsupported
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	s := &sseWriter{w: w, flusher: flusher, stop: make(chan struct{})}
	if interval > 0 {
		s.wg.Add(1)
		go s.heartbeat(interval)
	}
	return s, nil
}

func (s *sseWriter) heartbeat(interval time.Duration) {
	defer s.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.mu.Lock()
			if event.WriteHeartbeat(s.w) == nil {
				s.flusher.Flush()
			}
			s.mu.Unlock()
		}
	}
}

// Send writes one unnamed frame.
func (s *sseWriter) Send(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := event.WriteSSE(s.w, data); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// SendNamed writes one frame with an event name.
func (s *sseWriter) SendNamed(name string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := event.WriteNamedSSE(s.w, name, data); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// Close stops the heartbeat. It must not be called twice.
func (s *sseWriter) Close() {
	close(s.stop)
	s.wg.Wait()
}
