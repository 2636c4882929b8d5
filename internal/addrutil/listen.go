package addrutil

import (
	"net"
	"strconv"
	"strings"
)

// Listen opens a TCP listener on addr. A missing or zero port lets the
// kernel pick a free one; the chosen address is on the returned listener.
func Listen(addr string) (net.Listener, error) {
	return net.Listen("tcp", normalizeListen(addr))
}

func normalizeListen(addr string) string {
	a := strings.TrimSpace(addr)
	if a == "" {
		return "127.0.0.1:0"
	}
	if _, _, err := net.SplitHostPort(a); err == nil {
		return a
	}
	if _, err := strconv.Atoi(a); err == nil {
		return net.JoinHostPort("127.0.0.1", a)
	}
	return net.JoinHostPort(strings.Trim(a, "[]"), "0")
}

// DashboardURL builds the browser URL for a listening address. Wildcard
// hosts are replaced with loopback.
func DashboardURL(addr net.Addr) string {
	host, port, err := net.SplitHostPort(addr.String())
	if err != nil {
		return "http://" + addr.String()
	}
	if ip := net.ParseIP(host); host == "" || (ip != nil && ip.IsUnspecified()) {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port)
}

// BaseURL turns a user-supplied server address ("host:port", ":port" or a
// full URL) into a base URL for the API client.
func BaseURL(server string) string {
	s := strings.TrimRight(strings.TrimSpace(server), "/")
	if strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://") {
		return s
	}
	if strings.HasPrefix(s, ":") {
		s = "127.0.0.1" + s
	}
	return "http://" + s
}
