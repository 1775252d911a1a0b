package httpserver

import (
	"net/http"
	"time"

	"rpgateway/internal/platform/config"
)

// New builds the HTTP server. The write timeout sits above the request
// timeout so a callback that spent its budget upstream can still redirect.
func New(cfg config.Server, handler http.Handler) *http.Server {
	write := cfg.RequestTimeout + 10*time.Second
	if write < 30*time.Second {
		write = 30 * time.Second
	}
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      write,
		IdleTimeout:       120 * time.Second,
	}
}
