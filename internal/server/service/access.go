package service

import (
	"context"
	"log/slog"
	"net/netip"
	"strings"

	"templaterepo/internal/server/database"
)

// AllowlistCounter is the read side of the allowlist the access checks use.
type AllowlistCounter interface {
	Count(ctx context.Context, kind database.SourceKind, value string) (int, error)
}

// AccessControl answers whether a caller may use a guarded route.
// It only reads and is safe for concurrent use.
type AccessControl struct {
	allowlist AllowlistCounter
}

// NewAccessControl creates a new AccessControl.
func NewAccessControl(allowlist AllowlistCounter) *AccessControl {
	return &AccessControl{allowlist: allowlist}
}

// CheckIP reports whether addr is loopback or listed as an IP entry.
// IPv4-mapped IPv6 addresses are compared in their IPv4 form.
func (a *AccessControl) CheckIP(ctx context.Context, addr string) bool {
	addr = strings.TrimPrefix(strings.TrimSpace(addr), "::ffff:")
	if addr == "" {
		return false
	}
	if isLoopback(addr) {
		return true
	}
	return a.listed(ctx, database.KindIP, addr)
}

// CheckMAC reports whether mac is listed as a MAC entry, ignoring case.
func (a *AccessControl) CheckMAC(ctx context.Context, mac string) bool {
	mac = strings.ToLower(strings.TrimSpace(mac))
	if mac == "" {
		return false
	}
	return a.listed(ctx, database.KindMAC, mac)
}

func (a *AccessControl) listed(ctx context.Context, kind database.SourceKind, value string) bool {
	n, err := a.allowlist.Count(ctx, kind, value)
	if err != nil {
		slog.Error("allowlist lookup failed", "op", "access_check", "kind", kind, "error", err)
		return false
	}
	return n == 1
}

func isLoopback(addr string) bool {
	ip, err := netip.ParseAddr(addr)
	if err != nil {
		return false
	}
	return ip.Unmap().IsLoopback()
}
