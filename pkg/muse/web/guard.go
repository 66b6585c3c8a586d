package web

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strings"
)

// GuardConfig controls which hosts /summarize_url may reach.
type GuardConfig struct {
	AllowPrivate bool     `yaml:"allow_private"`
	BlockedHosts []string `yaml:"blocked_hosts"`
}

// Guard rejects URLs that point at the bot's own network. Hostnames are
// resolved before the check so a public name cannot map to a private IP.
type Guard struct {
	cfg      GuardConfig
	resolver *net.Resolver
	logger   *slog.Logger
}

// NewGuard creates a guard.
func NewGuard(cfg GuardConfig, logger *slog.Logger) *Guard {
	if logger == nil {
		logger = slog.Default()
	}
	return &Guard{cfg: cfg, resolver: net.DefaultResolver, logger: logger.With("component", "url_guard")}
}

// Check returns an error when rawURL must not be fetched.
func (g *Guard) Check(ctx context.Context, rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if s := strings.ToLower(u.Scheme); s != "http" && s != "https" {
		return fmt.Errorf("scheme %q not allowed", u.Scheme)
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return fmt.Errorf("no host in URL")
	}
	if err := strictIPv4(host); err != nil {
		return err
	}
	if host == "localhost" || host == "metadata.google.internal" {
		return fmt.Errorf("host %s is not allowed", host)
	}
	for _, b := range g.cfg.BlockedHosts {
		if strings.EqualFold(host, b) {
			return fmt.Errorf("host %s is blocked", host)
		}
	}

	addrs, err := g.resolver.LookupIPAddr(ctx, host)
	if err != nil {
		return fmt.Errorf("cannot resolve host %s: %w", host, err)
	}
	for _, a := range addrs {
		if err := g.checkIP(a.IP); err != nil {
			g.logger.Warn("blocked URL", "url", rawURL, "ip", a.IP.String(), "reason", err)
			return err
		}
	}
	return nil
}

func (g *Guard) checkIP(ip net.IP) error {
	switch {
	case ip.IsLoopback(), ip.IsUnspecified():
		return fmt.Errorf("loopback address %s is not allowed", ip)
	case ip.IsLinkLocalUnicast(), ip.IsLinkLocalMulticast():
		return fmt.Errorf("link-local address %s is not allowed", ip)
	case ip.IsPrivate() && !g.cfg.AllowPrivate:
		return fmt.Errorf("private address %s is not allowed", ip)
	}
	return nil
}

// strictIPv4 rejects octal, hex, short and packed IPv4 literals, which some
// resolvers expand to loopback addresses.
func strictIPv4(host string) error {
	if strings.Contains(host, "0x") {
		return fmt.Errorf("hex IPv4 notation not allowed")
	}
	if strings.Trim(host, "0123456789.") != "" {
		return nil
	}
	parts := strings.Split(host, ".")
	if len(parts) != 4 {
		return fmt.Errorf("non-standard IPv4 notation not allowed")
	}
	for _, p := range parts {
		if p == "" || len(p) > 3 || (len(p) > 1 && p[0] == '0') {
			return fmt.Errorf("non-standard IPv4 notation not allowed")
		}
	}
	if net.ParseIP(host) == nil {
		return fmt.Errorf("invalid IPv4 address %s", host)
	}
	return nil
}
