package httpapi

import (
	"context"
	"net/http"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const watchWriteTimeout = 5 * time.Second

// handleQuotesWatch upgrades the request to a websocket and streams the
// workspace's change events as JSON frames until the client goes away.
// The token may arrive as a normal Authorization header or, for browser
// clients, as an access_token query parameter.
func (s *Server) handleQuotesWatch(w http.ResponseWriter, r *http.Request, workspaceID string) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		if token := r.URL.Query().Get("access_token"); token != "" {
			authHeader = "Bearer " + token
		}
	}
	claims, authErr := checkAccess(authHeader, s.config.JWTSecret, workspaceID, "quotes:read", time.Now())
	if authErr != nil {
		writeError(w, authErr.status, authErr.code, authErr.message, "")
		return
	}
	limiterKey := claims.Workspace + "|" + claims.Agent
	if !s.limiter.allow(limiterKey, time.Now()) {
		writeError(w, 429, "rate_limited", "too many requests", "")
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		// Accept has already written the handshake failure.
		return
	}
	defer conn.Close(websocket.StatusInternalError, "stream aborted")

	events, unsubscribe := s.store.Subscribe(workspaceID)
	defer unsubscribe()

	// CloseRead keeps the read side drained so pongs and client closes
	// are processed while we only write.
	ctx := conn.CloseRead(r.Context())

	pings := time.NewTicker(30 * time.Second)
	defer pings.Stop()

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case <-pings.C:
			pingCtx, cancel := context.WithTimeout(ctx, watchWriteTimeout)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				return
			}
		case event, ok := <-events:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "store closed")
				return
			}
			writeCtx, cancel := context.WithTimeout(ctx, watchWriteTimeout)
			err := wsjson.Write(writeCtx, conn, event)
			cancel()
			if err != nil {
				return
			}
		}
	}
}
