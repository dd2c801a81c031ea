// Package adblock turns ad and tracker domain lists into browser URL-block
// patterns.
package adblock

import (
	"sort"
	"strings"
)

// DefaultDomains are ad, analytics and chat-widget hosts blocked when a
// request enables ad blocking.
var DefaultDomains = []string{
	"google-analytics.com", "googletagmanager.com", "hotjar.com",
	"mixpanel.com", "segment.io", "newrelic.com", "nr-data.net",
	"doubleclick.net", "googlesyndication.com", "adservice.google.com",
	"googleadservices.com", "amazon-adsystem.com", "adnxs.com",
	"taboola.com", "outbrain.com", "criteo.com", "scorecardresearch.com",
	"connect.facebook.net", "ads.linkedin.com", "px.ads.linkedin.com",
	"bat.bing.com", "tr.snapchat.com",
	"intercom.io", "crisp.chat", "drift.com",
}

// Blocklist stores exact hosts and suffix wildcards.
type Blocklist struct {
	exact    map[string]struct{}
	suffixes []string
}

// New builds a blocklist from host patterns. "*.example.com" and
// ".example.com" match the domain and all subdomains; bare hosts match
// themselves and their subdomains too, since ad hosts rotate subdomains.
func New(patterns ...[]string) *Blocklist {
	b := &Blocklist{exact: make(map[string]struct{})}
	for _, list := range patterns {
		for _, raw := range list {
			value := strings.TrimSpace(strings.ToLower(raw))
			value = strings.TrimPrefix(value, "*.")
			value = strings.TrimPrefix(value, ".")
			if value == "" {
				continue
			}
			if _, dup := b.exact[value]; dup {
				continue
			}
			b.exact[value] = struct{}{}
			b.suffixes = append(b.suffixes, value)
		}
	}
	sort.Strings(b.suffixes)
	return b
}

// Len reports the number of distinct domains.
func (b *Blocklist) Len() int {
	if b == nil {
		return 0
	}
	return len(b.suffixes)
}

// IsBlocked reports whether host or one of its parent domains is listed.
func (b *Blocklist) IsBlocked(host string) bool {
	if b == nil {
		return false
	}
	host = strings.TrimSpace(strings.ToLower(host))
	if host == "" {
		return false
	}
	if _, ok := b.exact[host]; ok {
		return true
	}
	for _, suffix := range b.suffixes {
		if strings.HasSuffix(host, "."+suffix) {
			return true
		}
	}
	return false
}

// URLPatterns renders the list as Chrome blocked-URL patterns covering the
// domain and its subdomains.
func (b *Blocklist) URLPatterns() []string {
	if b == nil {
		return nil
	}
	out := make([]string, 0, len(b.suffixes)*2)
	for _, d := range b.suffixes {
		out = append(out, "*://"+d+"/*", "*://*."+d+"/*")
	}
	return out
}
