package addrutil

import (
	"net"
	"strings"
	"testing"
)

func TestNormalizeListen(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"":               "127.0.0.1:0",
		"127.0.0.1:5000": "127.0.0.1:5000",
		":8080":          ":8080",
		"5000":           "127.0.0.1:5000",
		"0.0.0.0":        "0.0.0.0:0",
		"[::1]":          "[::1]:0",
	}
	for in, want := range cases {
		if got := normalizeListen(in); got != want {
			t.Fatalf("in=%q got=%q want=%q", in, got, want)
		}
	}
}

func TestListen_PicksFreePort(t *testing.T) {
	t.Parallel()

	ln, err := Listen("127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()

	url := DashboardURL(ln.Addr())
	if !strings.HasPrefix(url, "http://127.0.0.1:") || strings.HasSuffix(url, ":0") {
		t.Fatalf("url=%q", url)
	}
}

func TestDashboardURL_WildcardBecomesLoopback(t *testing.T) {
	t.Parallel()

	addr := &net.TCPAddr{IP: net.IPv4zero, Port: 5000}
	if got := DashboardURL(addr); got != "http://127.0.0.1:5000" {
		t.Fatalf("url=%q", got)
	}
	addr6 := &net.TCPAddr{IP: net.IPv6unspecified, Port: 5001}
	if got := DashboardURL(addr6); got != "http://127.0.0.1:5001" {
		t.Fatalf("url=%q", got)
	}
}

func TestBaseURL(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"127.0.0.1:5000":       "http://127.0.0.1:5000",
		":5000":                "http://127.0.0.1:5000",
		"http://host:1/":       "http://host:1",
		" https://mesh.local ": "https://mesh.local",
	}
	for in, want := range cases {
		if got := BaseURL(in); got != want {
			t.Fatalf("in=%q got=%q want=%q", in, got, want)
		}
	}
}
