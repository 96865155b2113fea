package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

var devStreamUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Dev-only endpoint gated behind --dev-endpoints-enabled; any origin may
	// connect a local tooling client.
	CheckOrigin: func(r *http.Request) bool { return true },
}

const devStreamPushInterval = 2 * time.Second

// handleDevTriggerStreamsWS pushes a ChainHealth snapshot over a websocket
// connection every devStreamPushInterval until the client disconnects
// (dev-only, §6's live trigger-stream-info endpoint).
func (s *OperatorServer) handleDevTriggerStreamsWS(w http.ResponseWriter, r *http.Request) {
	conn, err := devStreamUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithField("error", err).Debug("httpapi: dev trigger stream websocket upgrade failed")
		return
	}
	defer conn.Close()

	ticker := time.NewTicker(devStreamPushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if err := conn.WriteJSON(map[string]any{"chains": s.triggers.ChainHealth()}); err != nil {
				return
			}
		}
	}
}
