package gateway

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestTLSConfigBuild(t *testing.T) {
	if (TLSConfig{}).Enabled() {
		t.Fatal("empty config should not enable TLS")
	}
	if _, err := (TLSConfig{CertFile: "cert.pem"}).Build(); err == nil {
		t.Fatal("expected error without key")
	}
	if _, err := (TLSConfig{CertFile: "missing.pem", KeyFile: "missing.key"}).Build(); err == nil {
		t.Fatal("expected error for missing files")
	}
}

func TestClientIdentityRequiresCertificate(t *testing.T) {
	s := newTestServer(t)
	h := s.clientIdentity(true)(s.Handler())
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v0/heartbeat", nil))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	s.clientIdentity(false)(s.Handler()).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v0/heartbeat", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status %d", rr.Code)
	}
}
