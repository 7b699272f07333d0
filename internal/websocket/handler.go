package websocket

import (
	"log/slog"
	"net/http"

	ws "github.com/coder/websocket"
)

// HandleWebSocket upgrades the request and runs it as a hub client until the
// screen disconnects. The optional child query parameter binds the
// connection to that child's chore screen.
func HandleWebSocket(hub *Hub, toucher Toucher, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := ws.Accept(w, r, &ws.AcceptOptions{
			// Kiosk screens are served from the same LAN host.
			InsecureSkipVerify: true,
		})
		if err != nil {
			logger.Warn("websocket accept", "error", err)
			return
		}
		defer conn.CloseNow()

		childID := r.URL.Query().Get("child")
		logger.Debug("screen connected", "remote", r.RemoteAddr, "child_id", childID)
		NewClient(hub, conn, childID, toucher, logger).Run(r.Context())
		logger.Debug("screen disconnected", "remote", r.RemoteAddr, "child_id", childID)
	}
}
