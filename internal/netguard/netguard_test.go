package netguard

import (
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestIsPublicIP(t *testing.T) {
	tests := map[string]bool{
		"8.8.8.8":         true,
		"2606:4700::1111": true,
		"127.0.0.1":       false,
		"10.1.2.3":        false,
		"192.168.0.10":    false,
		"172.16.5.4":      false,
		"169.254.169.254": false,
		"100.64.0.1":      false,
		"0.0.0.0":         false,
		"::1":             false,
		"fe80::1":         false,
		"fd00::1":         false,
	}
	for addr, want := range tests {
		if got := IsPublicIP(net.ParseIP(addr)); got != want {
			t.Errorf("IsPublicIP(%s) = %v, want %v", addr, got, want)
		}
	}
}

func TestNewClient_BlocksLoopback(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("internal"))
	}))
	defer ts.Close()

	_, err := NewClient(Options{}).Get(ts.URL)
	if err == nil {
		t.Fatal("Expected loopback request to be refused")
	}
	if !errors.Is(err, ErrForbiddenAddress) {
		t.Errorf("Expected ErrForbiddenAddress, got %v", err)
	}

	resp, err := NewClient(Options{AllowPrivate: true}).Get(ts.URL)
	if err != nil {
		t.Fatalf("Expected request to succeed with AllowPrivate, got %v", err)
	}
	resp.Body.Close()
}
