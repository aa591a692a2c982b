package main

import (
	"net/http"
	"strconv"

	"github.com/tokenrooms/backend/internal/errors"
	"github.com/tokenrooms/backend/internal/httputil"
)

// =============================================================================
// GIF Handlers
// =============================================================================

func (a *app) searchGifsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if a.gifs == nil {
			writeError(w, r, errors.NotFound("GIF search is not configured"))
			return
		}
		query := r.URL.Query().Get("q")
		if query == "" {
			writeError(w, r, errors.InvalidFormat("query parameter q is required"))
			return
		}
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

		gifs, err := a.gifs.Search(r.Context(), query, limit)
		if err != nil {
			writeError(w, r, errors.Upstream("GIF search failed", err))
			return
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
			"gifs": gifs,
		})
	}
}

func (a *app) trendingGifsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if a.gifs == nil {
			writeError(w, r, errors.NotFound("GIF search is not configured"))
			return
		}
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

		gifs, err := a.gifs.Trending(r.Context(), limit)
		if err != nil {
			writeError(w, r, errors.Upstream("GIF search failed", err))
			return
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
			"gifs": gifs,
		})
	}
}
