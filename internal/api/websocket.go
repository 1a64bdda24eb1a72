package api

import (
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"rotorwise.app/rotorwise/internal/core"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
}

// ChatFeedHandler streams conversation snapshots over a websocket: the
// current one on connect, then one per change. A slow client skips
// intermediate snapshots and always receives the latest.
func (h *APIHandler) ChatFeedHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("Websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	updates := make(chan core.Snapshot, 1)
	unsubscribe := h.chatService.Manager().Subscribe(func(s core.Snapshot) {
		select {
		case <-updates:
		default:
		}
		updates <- s
	})
	defer unsubscribe()

	// the reader only services control frames and notices the client leaving
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					log.Printf("Websocket read error: %v", err)
				}
				return
			}
		}
	}()

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	if err := h.writeSnapshot(conn, h.chatResponse()); err != nil {
		return
	}
	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case s := <-updates:
			resp := ChatResponse{
				Snapshot:        s,
				Configured:      h.chatService.Manager().Configured(),
				ActiveSessionID: h.chatService.ActiveSessionID(),
			}
			if err := h.writeSnapshot(conn, resp); err != nil {
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *APIHandler) writeSnapshot(conn *websocket.Conn, resp ChatResponse) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(resp); err != nil {
		log.Printf("Websocket write error: %v", err)
		return err
	}
	return nil
}
