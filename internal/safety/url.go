// Package safety decides whether a user-supplied URL may be fetched from
// server-side infrastructure.
//
// Hosts are canonicalized the way a browser does before navigation, so
// short, integer, hex, octal and trailing-dot IPv4 spellings are checked as
// the dotted quad they denote. The checks stay syntactic otherwise:
// hostnames that resolve to private addresses through DNS are not detected.
package safety

import (
	"fmt"
	"net/netip"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/net/idna"

	"github.com/JakeFAU/screenshot-service/internal/screenshot"
)

var blockedHosts = map[string]struct{}{
	"localhost": {},
	"127.0.0.1": {},
	"0.0.0.0":   {},
	"::1":       {},
	"local":     {},
	"internal":  {},
}

var linkLocalPrefixes = []string{"169.254.", "fe80::"}

// hostProfile maps hostnames the way browsers do before DNS lookup, so
// fullwidth digits and ideographic dots collapse to ASCII.
var hostProfile = idna.New(
	idna.MapForLookup(),
	idna.ValidateLabels(false),
	idna.StrictDomainName(false),
	idna.Transitional(false),
)

// IsSafeURL reports whether raw is an absolute http(s) URL whose host is not
// a loopback, private or link-local literal.
func IsSafeURL(raw string) bool {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || !u.IsAbs() {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	host, ok := canonicalHost(u.Hostname())
	if !ok {
		return false
	}
	if _, blocked := blockedHosts[host]; blocked {
		return false
	}
	if addr, err := netip.ParseAddr(host); err == nil && addr.Is4() {
		octets := addr.As4()
		if isPrivateIPv4(int(octets[0]), int(octets[1])) {
			return false
		}
	}
	for _, prefix := range linkLocalPrefixes {
		if strings.HasPrefix(host, prefix) {
			return false
		}
	}
	return true
}

// Check wraps IsSafeURL, returning an error that matches screenshot.ErrUnsafeURL.
func Check(raw string) error {
	if !IsSafeURL(raw) {
		return fmt.Errorf("%w: %s", screenshot.ErrUnsafeURL, raw)
	}
	return nil
}

// canonicalHost returns the host a browser would navigate to. IPv4 forms
// come back as a dotted quad, IPv6 literals in compressed form and names
// lowercased without a trailing dot. ok is false for hosts a browser
// rejects outright.
func canonicalHost(raw string) (string, bool) {
	if raw == "" {
		return "", false
	}
	if strings.Contains(raw, ":") {
		addr, err := netip.ParseAddr(raw)
		if err != nil {
			return "", false
		}
		return strings.ToLower(addr.String()), true
	}
	host, err := hostProfile.ToASCII(raw)
	if err != nil {
		return "", false
	}
	host = strings.ToLower(host)
	if endsInNumber(host) {
		v, ok := parseIPv4(host)
		if !ok {
			return "", false
		}
		return netip.AddrFrom4([4]byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}).String(), true
	}
	host = strings.TrimSuffix(host, ".")
	if host == "" {
		return "", false
	}
	return host, true
}

// labels splits host on dots, dropping one empty trailing label.
func labels(host string) []string {
	parts := strings.Split(host, ".")
	if len(parts) > 1 && parts[len(parts)-1] == "" {
		parts = parts[:len(parts)-1]
	}
	return parts
}

// endsInNumber reports whether the last label is decimal or 0x-prefixed
// hex, which makes the whole host an IPv4 address or an invalid one.
func endsInNumber(host string) bool {
	parts := labels(host)
	last := parts[len(parts)-1]
	if last == "" {
		return false
	}
	if isDigits(last, 10) {
		return true
	}
	if strings.HasPrefix(last, "0x") {
		return isDigits(last[2:], 16)
	}
	return false
}

// parseIPv4 accepts one to four labels, each decimal, 0x hex or leading-zero
// octal. Every label but the last is a single byte; the last fills the
// remaining bytes.
func parseIPv4(host string) (uint32, bool) {
	parts := labels(host)
	if len(parts) > 4 {
		return 0, false
	}
	nums := make([]uint64, len(parts))
	for i, part := range parts {
		n, ok := parseIPv4Number(part)
		if !ok {
			return 0, false
		}
		if i < len(parts)-1 && n > 255 {
			return 0, false
		}
		nums[i] = n
	}
	last := nums[len(nums)-1]
	if last >= 1<<(8*(5-len(nums))) {
		return 0, false
	}
	v := last
	for i, n := range nums[:len(nums)-1] {
		v += n << (8 * (3 - i))
	}
	return uint32(v), true
}

func parseIPv4Number(part string) (uint64, bool) {
	if part == "" {
		return 0, false
	}
	base := 10
	switch {
	case strings.HasPrefix(part, "0x"):
		part, base = part[2:], 16
		if part == "" {
			return 0, true
		}
	case len(part) > 1 && part[0] == '0':
		part, base = part[1:], 8
	}
	if !isDigits(part, base) {
		return 0, false
	}
	n, err := strconv.ParseUint(part, base, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

func isDigits(s string, base int) bool {
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9' && int(r-'0') < base:
		case base == 16 && r >= 'a' && r <= 'f':
		default:
			return false
		}
	}
	return true
}

// isPrivateIPv4 covers 10/8, 172.16/12, 192.168/16, 127/8 and 0/8.
func isPrivateIPv4(a, b int) bool {
	switch {
	case a == 10, a == 127, a == 0:
		return true
	case a == 172 && b >= 16 && b <= 31:
		return true
	case a == 192 && b == 168:
		return true
	default:
		return false
	}
}
