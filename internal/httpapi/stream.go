package httpapi

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"

	"nhooyr.io/websocket"

	"github.com/ageentiq/watrack/internal/watrack"
)

// streamHub fans status-change notifications out to websocket subscribers.
// A subscriber that cannot keep up has its oldest pending frame dropped
// rather than blocking the scan loop.
type streamHub struct {
	mu          sync.Mutex
	subscribers map[chan []byte]struct{}
}

func newStreamHub() *streamHub {
	return &streamHub{subscribers: map[chan []byte]struct{}{}}
}

func (h *streamHub) subscribe() chan []byte {
	ch := make(chan []byte, 16)
	h.mu.Lock()
	h.subscribers[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *streamHub) unsubscribe(ch chan []byte) {
	h.mu.Lock()
	delete(h.subscribers, ch)
	h.mu.Unlock()
}

func (h *streamHub) broadcast(frame []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subscribers {
		select {
		case ch <- frame:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- frame:
			default:
			}
		}
	}
}

type statusChangeFrame struct {
	Type    string                      `json:"type"`
	Outcome string                      `json:"outcome"`
	Message watrack.MessageStatusRecord `json:"message"`
}

// NotifyChange publishes one inserted or updated record to every stream
// subscriber. Wire it into the runner's OnChange hook.
func (s *Server) NotifyChange(record watrack.MessageStatusRecord, outcome watrack.UpsertOutcome) {
	frame, err := json.Marshal(statusChangeFrame{
		Type:    "status_change",
		Outcome: outcome.String(),
		Message: record,
	})
	if err != nil {
		log.Printf("[warn] failed to encode status change frame: %v", err)
		return
	}
	s.hub.broadcast(frame)
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusInternalError, "stream closed")

	ch := s.hub.subscribe()
	defer s.hub.unsubscribe(ch)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case frame, ok := <-ch:
			if !ok {
				conn.Close(websocket.StatusNormalClosure, "")
				return
			}
			writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := conn.Write(writeCtx, websocket.MessageText, frame)
			cancel()
			if err != nil {
				return
			}
		}
	}
}
