package server

import (
	"net/http"

	"voidnode/internal/utils/log"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// HandleEvents streams federation events over a websocket. The connection is
// write-only from the server side; a read loop runs solely to notice closes.
func (s *HttpServer) HandleEvents() http.HandlerFunc {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return true // Allow all origins
		},
	}

	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			http.Error(w, "Failed to upgrade", http.StatusInternalServerError)
			return
		}

		bus := s.federation.Events()
		ch := bus.Subscribe()

		done := make(chan struct{})
		go func() {
			defer close(done)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		defer func() {
			bus.Unsubscribe(ch)
			conn.Close()
		}()

		for {
			select {
			case <-done:
				return
			case event, ok := <-ch:
				if !ok {
					return
				}
				if err := conn.WriteJSON(event); err != nil {
					log.Debug("event subscriber dropped", zap.Error(err))
					return
				}
			}
		}
	}
}
