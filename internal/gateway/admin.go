package gateway

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"

	"github.com/wudi/delegate/internal/errors"
	"github.com/wudi/delegate/internal/router"
)

// RouteInfo is the admin view of a route.
type RouteInfo struct {
	ID        string         `json:"id"`
	Pattern   string         `json:"pattern"`
	Upstreams []UpstreamInfo `json:"upstreams"`
}

// UpstreamInfo is the admin view of an upstream.
type UpstreamInfo struct {
	URI    string  `json:"uri"`
	Domain *string `json:"domain"`
}

func newRouteInfo(rt *router.Route) RouteInfo {
	info := RouteInfo{
		ID:        rt.ID,
		Pattern:   rt.Pattern.String(),
		Upstreams: make([]UpstreamInfo, len(rt.Upstreams)),
	}
	for i, u := range rt.Upstreams {
		info.Upstreams[i].URI = u.String()
		if u.Label != "" {
			label := u.Label
			info.Upstreams[i].Domain = &label
		}
	}
	return info
}

// AdminHandler returns the admin API.
func (s *Server) AdminHandler() http.Handler {
	r := httprouter.New()

	r.Handler(http.MethodGet, "/metrics", s.metrics.Handler())
	r.GET("/healthz", s.handleHealth)
	r.GET("/routes", s.handleRoutes)
	r.GET("/routes/:id", s.handleRoute)
	r.POST("/reload", s.handleReload)
	r.GET("/reload/status", s.handleReloadStatus)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().Format(time.RFC3339),
		"uptime":    time.Since(s.startTime).String(),
		"routes":    len(s.gateway.Routes()),
	})
}

func (s *Server) handleRoutes(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	routes := s.gateway.Routes()
	infos := make([]RouteInfo, len(routes))
	for i, rt := range routes {
		infos[i] = newRouteInfo(rt)
	}
	writeJSON(w, http.StatusOK, infos)
}

func (s *Server) handleRoute(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id := ps.ByName("id")
	for _, rt := range s.gateway.Routes() {
		if rt.ID == id {
			writeJSON(w, http.StatusOK, newRouteInfo(rt))
			return
		}
	}
	errors.ErrNotFound.WithDetails("route " + id).WriteJSON(w)
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	result := s.ReloadConfig()
	status := http.StatusOK
	if !result.Success {
		status = http.StatusBadRequest
	}
	writeJSON(w, status, result)
}

func (s *Server) handleReloadStatus(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, s.ReloadHistory())
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
