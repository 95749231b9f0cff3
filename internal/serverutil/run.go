package serverutil

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"
)

// TLSConfig points at the certificate pair for a TLS listener. Both paths
// must be set together.
type TLSConfig struct {
	CertFile string
	KeyFile  string
}

// Config describes one HTTP listener lifecycle.
type Config struct {
	Server          *http.Server
	TLS             TLSConfig
	ShutdownTimeout time.Duration
	// Ready, when non-nil, is closed once the listener is bound. Tests use it
	// to avoid polling for the port.
	Ready chan<- struct{}
}

// DefaultShutdownTimeout bounds graceful shutdown after the context ends.
const DefaultShutdownTimeout = 10 * time.Second

// Run binds the listener, serves until the context is cancelled or the server
// fails, then drains in-flight requests within ShutdownTimeout. It returns
// nil on a clean stop; http.ErrServerClosed is swallowed.
func Run(ctx context.Context, cfg Config) error {
	if cfg.Server == nil {
		return fmt.Errorf("server is required")
	}
	if (cfg.TLS.CertFile == "") != (cfg.TLS.KeyFile == "") {
		return fmt.Errorf("TLS cert file and key file must be set together")
	}

	listener, err := net.Listen("tcp", cfg.Server.Addr)
	if err != nil {
		return fmt.Errorf("bind %s: %w", cfg.Server.Addr, err)
	}
	if cfg.TLS.CertFile != "" {
		listener, err = wrapTLS(listener, cfg.Server, cfg.TLS)
		if err != nil {
			return err
		}
	}

	if cfg.Ready != nil {
		close(cfg.Ready)
	}

	failed := make(chan error, 1)
	go func() {
		failed <- cfg.Server.Serve(listener)
	}()

	select {
	case err := <-failed:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	timeout := cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = DefaultShutdownTimeout
	}
	drainCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	drainErr := cfg.Server.Shutdown(drainCtx)

	select {
	case err := <-failed:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-drainCtx.Done():
		if drainErr == nil {
			drainErr = drainCtx.Err()
		}
	}
	return drainErr
}

func wrapTLS(listener net.Listener, server *http.Server, cfg TLSConfig) (net.Listener, error) {
	cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
	if err != nil {
		listener.Close()
		return nil, fmt.Errorf("load TLS key pair: %w", err)
	}
	tlsCfg := server.TLSConfig
	if tlsCfg == nil {
		tlsCfg = &tls.Config{MinVersion: tls.VersionTLS12}
	} else {
		tlsCfg = tlsCfg.Clone()
	}
	tlsCfg.Certificates = append([]tls.Certificate{cert}, tlsCfg.Certificates...)
	server.TLSConfig = tlsCfg
	return tls.NewListener(listener, tlsCfg), nil
}
