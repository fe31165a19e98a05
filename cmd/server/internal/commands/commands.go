package commands

import (
	"crypto/tls"
	stdlog "log"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

type Globals struct {
	Debug   bool
	Version string
}

// configureHTTPServer builds the API server. Create blocks until the desktop
// answers its probe, so writes are allowed a full minute.
func configureHTTPServer(addr string, handler http.Handler, logger zerolog.Logger) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      time.Minute,
		IdleTimeout:       5 * time.Minute,
		MaxHeaderBytes:    8 * 1024, // 8KiB
		TLSConfig:         &tls.Config{MinVersion: tls.VersionTLS12},
		ErrorLog:          stdlog.New(logger.With().Str("component", "http").Logger(), "", 0),
	}
}
