package main

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/tokenrooms/backend/internal/database"
	"github.com/tokenrooms/backend/internal/errors"
	"github.com/tokenrooms/backend/internal/httputil"
	"github.com/tokenrooms/backend/internal/middleware"
	"github.com/tokenrooms/backend/services/messages"
)

// =============================================================================
// Message Handlers
// =============================================================================

func (a *app) listMessagesHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		room, err := a.rooms.Get(r.Context(), mux.Vars(r)["name"])
		if err != nil {
			writeError(w, r, err)
			return
		}

		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		before := r.URL.Query().Get("before")

		page, err := a.messages.List(r.Context(), room.Name, limit, before)
		if err != nil {
			writeError(w, r, err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, page)
	}
}

func (a *app) sendMessageHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, err := requireAddress(r)
		if err != nil {
			writeError(w, r, err)
			return
		}

		room, err := a.rooms.Get(r.Context(), mux.Vars(r)["name"])
		if err != nil {
			writeError(w, r, err)
			return
		}

		// The gate applies to writing, not reading
		decision, err := a.gate.CheckAccess(r.Context(), room, caller)
		if err != nil {
			writeError(w, r, errors.Upstream("balance check failed", err))
			return
		}
		if !decision.Granted {
			writeError(w, r, errors.AccessDenied("insufficient token balance for this room"))
			return
		}

		var req struct {
			Content string `json:"content"`
		}
		if err := httputil.DecodeJSON(r, &req); err != nil {
			writeError(w, r, errors.InvalidFormat("invalid request body"))
			return
		}

		msg, err := a.messages.Send(r.Context(), room.Name, caller, req.Content)
		if err != nil {
			writeError(w, r, err)
			return
		}
		httputil.WriteJSON(w, http.StatusCreated, msg)
	}
}

// =============================================================================
// WebSocket Stream
// =============================================================================

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// CORS is enforced by the middleware chain before the upgrade
	CheckOrigin: func(r *http.Request) bool { return true },
}

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 50 * time.Second
)

// roomStreamHandler upgrades to a WebSocket that delivers new messages
// for one room in commit order.
func (a *app) roomStreamHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		room, err := a.rooms.Get(r.Context(), mux.Vars(r)["name"])
		if err != nil {
			writeError(w, r, err)
			return
		}

		decision, err := a.gate.CheckAccess(r.Context(), room, middleware.GetAddress(r.Context()))
		if err != nil {
			writeError(w, r, errors.Upstream("balance check failed", err))
			return
		}
		if !decision.Granted {
			writeError(w, r, errors.AccessDenied("insufficient token balance for this room"))
			return
		}

		sub, err := a.broker.Subscribe(r.Context(), room.Name)
		if err != nil {
			writeError(w, r, errors.Upstream("live updates unavailable", err))
			return
		}

		conn, err := wsUpgrader.Upgrade(w, r, nil)
		if err != nil {
			sub.Close(r.Context())
			return
		}

		go a.streamMessages(conn, sub)
	}
}

// streamMessages pumps subscription events onto the socket until either
// side goes away.
func (a *app) streamMessages(conn *websocket.Conn, sub *messages.Subscription) {
	closed := make(chan struct{})

	// Read pump: we never expect client frames, but reading surfaces
	// close and pong events.
	go func() {
		defer close(closed)
		conn.SetReadLimit(512)
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

	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		sub.Close(ctx)
		cancel()
		conn.Close()
	}()

	for {
		select {
		case msg, ok := <-sub.C:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "subscription ended"),
					time.Now().Add(wsWriteWait))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(streamEvent{Type: "message", Message: &msg}); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-closed:
			return
		}
	}
}

// streamEvent is one frame delivered over the room socket.
type streamEvent struct {
	Type    string            `json:"type"`
	Message *database.Message `json:"message,omitempty"`
}
