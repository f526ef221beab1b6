package gateway

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net/http"
	"os"
)

// TLSConfig holds the gateway's TLS and optional client-certificate settings.
type TLSConfig struct {
	CertFile          string
	KeyFile           string
	ClientCAFile      string
	RequireClientCert bool
}

func (c TLSConfig) Enabled() bool { return c.CertFile != "" || c.KeyFile != "" }

// Build loads the certificates into a tls.Config.
func (c TLSConfig) Build() (*tls.Config, error) {
	if c.CertFile == "" || c.KeyFile == "" {
		return nil, errors.New("server cert and key required for TLS")
	}
	cert, err := tls.LoadX509KeyPair(c.CertFile, c.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("load server certificate: %w", err)
	}
	out := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}
	if !c.RequireClientCert {
		return out, nil
	}
	if c.ClientCAFile == "" {
		return nil, errors.New("client CA required when client certificates are required")
	}
	caCert, err := os.ReadFile(c.ClientCAFile)
	if err != nil {
		return nil, fmt.Errorf("read client CA certificate: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caCert) {
		return nil, errors.New("failed to parse client CA certificate")
	}
	out.ClientCAs = pool
	out.ClientAuth = tls.RequireAndVerifyClientCert
	return out, nil
}

// clientIdentity tags the request with the verified client certificate subject.
func (s *Server) clientIdentity(requireCert bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.TLS == nil || len(r.TLS.PeerCertificates) == 0 {
				if requireCert {
					http.Error(w, "client certificate required", http.StatusUnauthorized)
					return
				}
				next.ServeHTTP(w, r)
				return
			}
			cert := r.TLS.PeerCertificates[0]
			r.Header.Set("X-Client-Subject", cert.Subject.String())
			r.Header.Set("X-Client-Serial", cert.SerialNumber.String())
			s.logger.Debug().
				Str("subject", cert.Subject.String()).
				Str("serial", cert.SerialNumber.String()).
				Msg("client certificate accepted")
			next.ServeHTTP(w, r)
		})
	}
}

// ListenAndServeTLS starts the server with TLS and, when configured, client certificates.
func (s *Server) ListenAndServeTLS(addr string, cfg TLSConfig) error {
	if !cfg.Enabled() {
		return errors.New("server cert and key required for TLS")
	}
	srv, err := s.httpServer(addr, cfg)
	if err != nil {
		return err
	}
	s.srv = srv
	s.logger.Info().
		Str("addr", addr).
		Bool("client_cert_required", cfg.RequireClientCert).
		Msg("gateway listening with TLS")
	return srv.ListenAndServeTLS("", "")
}
