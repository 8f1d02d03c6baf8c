package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/titan-aas/titan/internal/broadcast"
	"github.com/titan-aas/titan/internal/eventlog"
	"github.com/titan-aas/titan/pkg/aas"
	"github.com/titan-aas/titan/pkg/apierr"
)

// Live mutation streams. Both transports deliver the same Notification
// records; delivery is best effort and a lagging client receives an
// explicit lag marker so it can resynchronize with a fresh read.

const (
	sseHeartbeat = 15 * time.Second
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 45 * time.Second
)

func (s *Server) mountStreamRoutes(r *mux.Router) {
	r.HandleFunc("/events/stream", s.streamSSE).Methods(http.MethodGet)
	r.HandleFunc("/events/ws", s.streamWS).Methods(http.MethodGet)
}

// parseStreamFilter builds the subscription filter from query parameters.
func parseStreamFilter(r *http.Request) (broadcast.Filter, error) {
	q := r.URL.Query()
	var f broadcast.Filter
	if v := q.Get("entityKind"); v != "" {
		kind, ok := aas.ParseKind(v)
		if !ok {
			return broadcast.Filter{}, apierr.New(apierr.ValidationError, "unknown entityKind")
		}
		f.EntityKind = kind
	}
	f.EntityID = q.Get("entityId")
	if v := q.Get("eventKind"); v != "" {
		switch ek := eventlog.EventKind(v); ek {
		case eventlog.EventCreated, eventlog.EventUpdated, eventlog.EventDeleted:
			f.EventKind = ek
		default:
			return broadcast.Filter{}, apierr.New(apierr.ValidationError, "unknown eventKind")
		}
	}
	return f, nil
}

func (s *Server) streamSSE(w http.ResponseWriter, r *http.Request) {
	filter, err := parseStreamFilter(r)
	if err != nil {
		writeError(w, err)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, apierr.New(apierr.Internal, "streaming unsupported"))
		return
	}

	sub := s.bcast.Subscribe(filter)
	defer sub.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	heartbeat := time.NewTicker(sseHeartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			if _, err := w.Write([]byte(": keepalive\n\n")); err != nil {
				return
			}
			flusher.Flush()
		case n := <-sub.C:
			if sub.Lagged() {
				if _, err := w.Write([]byte("event: lagged\ndata: {}\n\n")); err != nil {
					return
				}
			}
			payload, err := json.Marshal(n)
			if err != nil {
				continue
			}
			if _, err := w.Write([]byte("event: " + string(n.Kind) + "\ndata: ")); err != nil {
				return
			}
			if _, err := w.Write(payload); err != nil {
				return
			}
			if _, err := w.Write([]byte("\n\n")); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Same-origin policy is enforced upstream; the API itself is
	// origin-agnostic.
	CheckOrigin: func(r *http.Request) bool { return true },
}

type wsFrame struct {
	Type   string                  `json:"type"`
	Event  *broadcast.Notification `json:"event,omitempty"`
}

func (s *Server) streamWS(w http.ResponseWriter, r *http.Request) {
	filter, err := parseStreamFilter(r)
	if err != nil {
		writeError(w, err)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	sub := s.bcast.Subscribe(filter)
	defer sub.Close()

	// Read pump: discard client frames, surface disconnects.
	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.SetReadLimit(1024)
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wsPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-done:
			return
		case <-r.Context().Done():
			return
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case n := <-sub.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if sub.Lagged() {
				if err := conn.WriteJSON(wsFrame{Type: "lagged"}); err != nil {
					return
				}
			}
			if err := conn.WriteJSON(wsFrame{Type: "event", Event: &n}); err != nil {
				return
			}
		}
	}
}
