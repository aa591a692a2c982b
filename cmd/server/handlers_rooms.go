package main

import (
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/tokenrooms/backend/internal/errors"
	"github.com/tokenrooms/backend/internal/httputil"
	"github.com/tokenrooms/backend/internal/middleware"
	"github.com/tokenrooms/backend/services/rooms"
)

// =============================================================================
// Room Handlers
// =============================================================================

func (a *app) popularRoomsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		popular, err := a.rooms.Popular(r.Context(), limit)
		if err != nil {
			writeError(w, r, err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
			"rooms": popular,
		})
	}
}

// getRoomHandler resolves a room by name, creating it on first visit the
// way the client's room pages expect. Contract-named rooms derive their
// owner on chain; plain names without an owner answer 428 so the client
// can prompt for one.
func (a *app) getRoomHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		room, err := a.rooms.Resolve(r.Context(), rooms.ResolveRequest{
			Name: mux.Vars(r)["name"],
		})
		if err != nil {
			writeError(w, r, err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, room)
	}
}

// resolveRoomHandler returns the named room, creating it on first
// visit. When the room's owner cannot be determined the response asks
// the caller to supply one.
func (a *app) resolveRoomHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Name         string `json:"name"`
			OwnerAddress string `json:"owner_address"`
			TokenAddress string `json:"token_address"`
			TokenNetwork string `json:"token_network"`
		}
		if err := httputil.DecodeJSON(r, &req); err != nil {
			writeError(w, r, errors.InvalidFormat("invalid request body"))
			return
		}

		// Only an authenticated wallet may name itself the owner.
		if req.OwnerAddress != "" {
			caller, err := requireAddress(r)
			if err != nil {
				writeError(w, r, err)
				return
			}
			if !equalAddress(caller, req.OwnerAddress) {
				writeError(w, r, errors.Forbidden("owner_address must match the authenticated wallet"))
				return
			}
		}

		room, err := a.rooms.Resolve(r.Context(), rooms.ResolveRequest{
			Name:         req.Name,
			OwnerAddress: req.OwnerAddress,
			TokenAddress: req.TokenAddress,
			TokenNetwork: req.TokenNetwork,
		})
		if err != nil {
			writeError(w, r, err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, room)
	}
}

func (a *app) updateGateHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, err := requireAddress(r)
		if err != nil {
			writeError(w, r, err)
			return
		}

		var req struct {
			TokenAddress   string  `json:"token_address"`
			TokenNetwork   string  `json:"token_network"`
			RequiredTokens float64 `json:"required_tokens"`
		}
		if err := httputil.DecodeJSON(r, &req); err != nil {
			writeError(w, r, errors.InvalidFormat("invalid request body"))
			return
		}

		room, err := a.rooms.UpdateGate(r.Context(), mux.Vars(r)["name"], caller, rooms.GateUpdate{
			TokenAddress:   req.TokenAddress,
			TokenNetwork:   req.TokenNetwork,
			RequiredTokens: req.RequiredTokens,
		})
		if err != nil {
			writeError(w, r, err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, room)
	}
}

func (a *app) uploadAvatarHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, err := requireAddress(r)
		if err != nil {
			writeError(w, r, err)
			return
		}

		data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 2<<20+1))
		if err != nil {
			writeError(w, r, errors.InvalidFormat("avatar too large"))
			return
		}

		url, err := a.rooms.SetAvatar(r.Context(), mux.Vars(r)["name"], caller, r.Header.Get("Content-Type"), data)
		if err != nil {
			writeError(w, r, err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
			"avatar_url": url,
		})
	}
}

func (a *app) resetAvatarHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, err := requireAddress(r)
		if err != nil {
			writeError(w, r, err)
			return
		}

		if err := a.rooms.ResetAvatar(r.Context(), mux.Vars(r)["name"], caller); err != nil {
			writeError(w, r, err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
			"reset": true,
		})
	}
}

// roomAccessHandler evaluates the room's token gate for the caller.
// Anonymous callers see the gate requirements without a balance check.
func (a *app) roomAccessHandler() http.HandlerFunc {
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
		httputil.WriteJSON(w, http.StatusOK, decision)
	}
}
