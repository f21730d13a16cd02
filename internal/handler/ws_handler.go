/*
This file contains the websocket upgrade handler. A successful upgrade binds
the connection to a new session coordinator, which carries the live view model
for the rest of the connection's life.
*/
package handler

import (
	"net"
	"net/http"

	"github.com/gorilla/websocket"

	"kwite/internal/app/session"
	"kwite/internal/pkg/errs"
	"kwite/internal/pkg/limiter"
	"kwite/internal/pkg/logx"
	"kwite/internal/pkg/resp"
)

// HandleWebSocket upgrades the connection and runs the session until it ends.
func HandleWebSocket(upgrader websocket.Upgrader, rateLimiter *limiter.IPRateLimiter, deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ip, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			ip = r.RemoteAddr
		}
		if ip == "" {
			ip = "unknown_ip"
		}

		if !rateLimiter.GetLimiter(ip).Allow() {
			logx.Warn("WebSocket connection rejected: Rate limit exceeded.", "ip", ip)
			resp.RespondError(w, r, errs.NewError(errs.ErrRateLimitExceeded))
			return
		}

		profile, customErr := callerProfile(deps, r)
		if customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logx.Error(err, "Failed to upgrade connection to WebSocket")
			return
		}

		logx.Info("WebSocket session established", "handle", profile.FoldedHandle())

		coord := session.NewCoordinator(deps.Store, deps.Engine, profile)
		client := session.NewClient(coord, conn)

		client.Run()
	}
}
