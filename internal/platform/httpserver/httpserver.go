package httpserver

import (
	"net/http"
	"time"
)

// New builds an HTTP server with sane defaults for the metrics and
// operational endpoints this project exposes.
func New(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
	}
}
