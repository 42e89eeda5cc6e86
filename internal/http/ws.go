package http

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Token auth already ran in the guard; diagrams are not
	// cross-origin sensitive.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleWS streams stage events for one job: everything recorded so
// far, then live events until the job finishes.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	jobID := r.URL.Query().Get("job")
	if jobID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "job query parameter is required"})
		return
	}

	replay, live, cancel, ok := s.jobs.Subscribe(jobID)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "job not found"})
		return
	}
	defer cancel()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "job", jobID, "error", err)
		return
	}
	defer conn.Close()

	// Detect client disconnect; no inbound frames are expected.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for _, ev := range replay {
		if !writeEvent(conn, ev) {
			return
		}
	}

	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	for {
		select {
		case ev, open := <-live:
			if !open {
				// Job finished; report the terminal state and close.
				job, _ := s.jobs.Get(jobID)
				if job != nil {
					final, err := json.Marshal(map[string]string{"state": job.State, "error": job.Error})
					if err == nil {
						conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
						conn.WriteMessage(websocket.TextMessage, final)
					}
				}
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if !writeEvent(conn, ev) {
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-done:
			return

		case <-r.Context().Done():
			return
		}
	}
}

func writeEvent(conn *websocket.Conn, ev interface{}) bool {
	data, err := json.Marshal(ev)
	if err != nil {
		return false
	}
	conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return conn.WriteMessage(websocket.TextMessage, data) == nil
}
