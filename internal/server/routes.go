package server

import "net/http"

// Routes returns the HTTP routes of the server.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleRoot)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("GET /api/files/{filename}/access", s.handleFileAccess)
	mux.HandleFunc("DELETE /api/session", s.handleLogout)
	if s.opts.MetricsPath != "" {
		mux.Handle("GET "+s.opts.MetricsPath, s.metrics.Handler())
	}
	return mux
}
