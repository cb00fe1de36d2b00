package server

import (
	"net/http"

	"github.com/julienschmidt/httprouter"
)

// NewRouter wires HTTP routes to the server's handlers.
func NewRouter(s *Server) http.Handler {
	router := httprouter.New()
	router.POST("/myriota", s.handleWebhook)
	router.POST("/reassemble", s.handleReassemble)
	router.POST("/batch", s.handleBatch)
	router.GET("/devices", s.handleDevices)
	router.GET("/devices/:id/reassembly", s.handleDeviceReassembly)
	router.DELETE("/devices/:id", s.handleDeviceDrop)
	router.GET("/artifacts", s.handleArtifacts)
	router.GET("/artifacts/:id", s.handleArtifactDownload)
	router.GET("/metrics", s.handleMetrics)
	router.GET("/healthz", func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	return router
}
