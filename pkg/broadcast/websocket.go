package broadcast

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/mrlynn/semantic-space-race/pkg/log"
	"nhooyr.io/websocket"
)

const writeTimeout = 5 * time.Second

// HandleWebSocket upgrades the request and streams the frames of the
// game-{gameCode} channel until either side goes away. Clients only listen;
// actions go through the HTTP API.
func HandleWebSocket(hub *Hub, originPatterns []string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		gameCode := mux.Vars(r)["gameCode"]
		if gameCode == "" {
			http.Error(w, "gameCode is required", http.StatusBadRequest)
			return
		}

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			OriginPatterns: originPatterns,
		})
		if err != nil {
			log.Error("Failed to accept websocket for %s: %v", gameCode, err)
			return
		}
		defer conn.Close(websocket.StatusInternalError, "")

		sub := hub.Subscribe(Channel(gameCode))
		defer sub.Close()

		// CloseRead discards incoming frames and cancels ctx when the peer closes
		ctx := conn.CloseRead(r.Context())
		if err := stream(ctx, conn, sub); err != nil {
			log.Trace("Websocket for %s closed: %v", gameCode, err)
			return
		}
		conn.Close(websocket.StatusNormalClosure, "")
	}
}

func stream(ctx context.Context, conn *websocket.Conn, sub *Subscription) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case frame, ok := <-sub.Frames():
			if !ok {
				return nil
			}
			writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := conn.Write(writeCtx, websocket.MessageText, frame)
			cancel()
			if err != nil {
				return err
			}
		}
	}
}
