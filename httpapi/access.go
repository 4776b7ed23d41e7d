package httpapi

import (
	"fmt"
	"net"
	"net/http"
	"strings"
)

// PrivateNetworks are loopback and RFC1918/ULA ranges.
var PrivateNetworks = []string{
	"127.0.0.0/8",
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"::1/128",
	"fc00::/7",
}

// InternalOnly rejects requests from outside PrivateNetworks.
func InternalOnly() func(http.Handler) http.Handler {
	mw, err := AllowFromNetworks(PrivateNetworks...)
	if err != nil {
		panic(err)
	}
	return mw
}

// AllowFromNetworks admits only clients inside one of the CIDRs. The client
// address is taken from X-Forwarded-For, then X-Real-IP, then RemoteAddr.
func AllowFromNetworks(cidrs ...string) (func(http.Handler) http.Handler, error) {
	networks := make([]*net.IPNet, 0, len(cidrs))
	for _, cidr := range cidrs {
		_, network, err := net.ParseCIDR(strings.TrimSpace(cidr))
		if err != nil {
			return nil, fmt.Errorf("allowed network %q: %w", cidr, err)
		}
		networks = append(networks, network)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := clientIP(r)
			for _, network := range networks {
				if ip != nil && network.Contains(ip) {
					next.ServeHTTP(w, r)
					return
				}
			}
			RespondError(w, http.StatusForbidden, "client network not allowed")
		})
	}, nil
}

func clientIP(r *http.Request) net.IP {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := net.ParseIP(strings.TrimSpace(first)); ip != nil {
			return ip
		}
	}
	if ip := net.ParseIP(r.Header.Get("X-Real-IP")); ip != nil {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return net.ParseIP(host)
}
