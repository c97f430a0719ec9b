package storage

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/multiformats/go-multiaddr"
)

// HTTPBaseURL turns an endpoint into an http(s) base URL. It accepts either
// a URL or a multiaddr of the forms
//
//	/ip4/<ip>/tcp/<port>[/http|/https]
//	/ip6/<ip>/tcp/<port>[/http|/https]
//	/dns[4|6]/<host>/tcp/<port>[/http|/https]
//
// Kubo advertises its API as /ip4/127.0.0.1/tcp/5001, so a missing scheme
// component means http.
func HTTPBaseURL(endpoint string) (string, error) {
	ep := strings.TrimSpace(endpoint)
	if ep == "" {
		return "", fmt.Errorf("empty endpoint")
	}
	if strings.HasPrefix(ep, "http://") || strings.HasPrefix(ep, "https://") {
		return strings.TrimRight(ep, "/"), nil
	}
	if !strings.HasPrefix(ep, "/") {
		return "", fmt.Errorf("not a multiaddr: %q", ep)
	}

	ma, err := multiaddr.NewMultiaddr(ep)
	if err != nil {
		return "", fmt.Errorf("parse multiaddr %q: %w", ep, err)
	}

	portStr, err := ma.ValueForProtocol(multiaddr.P_TCP)
	if err != nil {
		return "", fmt.Errorf("unsupported multiaddr (expected /tcp): %q", ep)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return "", fmt.Errorf("invalid tcp port in multiaddr: %q", ep)
	}

	scheme := "http"
	if _, err := ma.ValueForProtocol(multiaddr.P_HTTPS); err == nil {
		scheme = "https"
	}

	var host string
	switch {
	case hasProtocol(ma, multiaddr.P_IP4):
		host, _ = ma.ValueForProtocol(multiaddr.P_IP4)
	case hasProtocol(ma, multiaddr.P_IP6):
		ip, _ := ma.ValueForProtocol(multiaddr.P_IP6)
		host = "[" + ip + "]"
	case hasProtocol(ma, multiaddr.P_DNS):
		host, _ = ma.ValueForProtocol(multiaddr.P_DNS)
	case hasProtocol(ma, multiaddr.P_DNS4):
		host, _ = ma.ValueForProtocol(multiaddr.P_DNS4)
	case hasProtocol(ma, multiaddr.P_DNS6):
		host, _ = ma.ValueForProtocol(multiaddr.P_DNS6)
	default:
		return "", fmt.Errorf("unsupported address protocol in multiaddr: %q", ep)
	}
	if strings.TrimSpace(host) == "" {
		return "", fmt.Errorf("empty host in multiaddr: %q", ep)
	}
	if ip := net.ParseIP(strings.Trim(host, "[]")); ip == nil && !hasDNS(ma) {
		return "", fmt.Errorf("invalid ip in multiaddr: %q", ep)
	}

	return fmt.Sprintf("%s://%s:%d", scheme, host, port), nil
}

func hasProtocol(ma multiaddr.Multiaddr, code int) bool {
	_, err := ma.ValueForProtocol(code)
	return err == nil
}

func hasDNS(ma multiaddr.Multiaddr) bool {
	return hasProtocol(ma, multiaddr.P_DNS) || hasProtocol(ma, multiaddr.P_DNS4) || hasProtocol(ma, multiaddr.P_DNS6)
}

func isRetryableStatus(code int) bool {
	return code == http.StatusTooManyRequests ||
		code == http.StatusBadGateway ||
		code == http.StatusServiceUnavailable ||
		code == http.StatusGatewayTimeout ||
		code == http.StatusInternalServerError
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
