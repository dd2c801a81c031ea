package safety

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/screenshot-service/internal/screenshot"
)

func TestIsSafeURL(t *testing.T) {
	t.Parallel()

	cases := []struct {
		raw  string
		safe bool
	}{
		{"https://example.com", true},
		{"http://example.com", true},
		{"http://google.com:8080/path", true},
		{"http://sub.example.com/path?q=1", true},
		{"https://example.com:443", true},
		{"http://8.8.8.8", true},
		{"http://172.15.0.1", true},
		{"http://172.32.0.1", true},
		{"http://192.169.0.1", true},
		{"http://localhost.example.com", true},

		{"", false},
		{"not-a-url", false},
		{"/relative/path", false},
		{"ftp://example.com", false},
		{"file:///etc/passwd", false},
		{"javascript:alert(1)", false},
		{"http://", false},

		{"http://localhost", false},
		{"http://LOCALHOST:3000", false},
		{"http://LocalHost/path", false},
		{"http://127.0.0.1", false},
		{"http://0.0.0.0", false},
		{"http://[::1]/", false},
		{"http://local", false},
		{"http://INTERNAL", false},

		{"http://10.0.0.1", false},
		{"http://10.255.255.255", false},
		{"http://172.16.0.1", false},
		{"http://172.31.255.1", false},
		{"http://192.168.1.1", false},
		{"http://127.8.8.8", false},
		{"http://0.1.2.3", false},

		{"http://169.254.169.254/latest/meta-data", false},
		{"http://169.254.1.1", false},
		{"http://[fe80::1]/", false},
		{"http://[FE80::abcd]/", false},
	}
	for _, tc := range cases {
		require.Equal(t, tc.safe, IsSafeURL(tc.raw), "IsSafeURL(%q)", tc.raw)
	}
}

// Browsers rewrite shorthand IPv4 spellings to a dotted quad before
// navigating, so each of these reaches loopback, private or metadata space.
func TestIsSafeURLRejectsAlternateIPv4Forms(t *testing.T) {
	t.Parallel()

	cases := []string{
		"http://127.1/",
		"http://2130706433/",
		"http://0x7f000001/",
		"http://0X7F000001/",
		"http://0177.0.0.1/",
		"http://0x7f.0.0.1/",
		"http://127.0.0.1./",
		"http://127.0.1/",
		"http://10.1/",
		"http://0x0a.0.0.1/",
		"http://167772161/",
		"http://192.168.1.1./",
		"http://192.11010305/",
		"http://0300.0250.1.1/",
		"http://0xac.0x10.0.1/",
		"http://169.254.169.254./",
		"http://169.254.43518/",
		"http://2852039166/latest/meta-data",
		"http://0xa9fea9fe/",
		"http://0/",
		"http://0x/",
		"http://localhost./",
		"http://LOCALHOST.:8080/",
		"http://127.0.0.%31/",
		"http://\uff11\uff12\uff17.\uff10.\uff10.\uff11/",
		"http://127\u30020\u30020\u30021/",
		"http://[0:0:0:0:0:0:0:1]/",
		"http://[fe80:0:0::1]/",
	}
	for _, raw := range cases {
		require.False(t, IsSafeURL(raw), "IsSafeURL(%q)", raw)
	}
}

// Hosts that end in a number but do not parse as IPv4 are invalid in a
// browser and are rejected rather than passed through as names.
func TestIsSafeURLRejectsMalformedNumericHosts(t *testing.T) {
	t.Parallel()

	cases := []string{
		"http://256.256.256.256/",
		"http://1.2.3.4.5/",
		"http://1.2.3.256/",
		"http://08.0.0.1/",
		"http://1..2/",
		"http://4294967296/",
		"http://0x100000000/",
		"http://example.123/",
		"http://./",
	}
	for _, raw := range cases {
		require.False(t, IsSafeURL(raw), "IsSafeURL(%q)", raw)
	}
}

func TestIsSafeURLAcceptsPublicAlternateForms(t *testing.T) {
	t.Parallel()

	cases := []string{
		"http://8.8.8.8./",
		"http://134744072/",
		"http://0x08080808/",
		"http://8.8.2056/",
		"http://example.com./",
		"http://10.example.com/",
		"http://0x7f.example.com/",
		"https://EXAMPLE.com./path",
	}
	for _, raw := range cases {
		require.True(t, IsSafeURL(raw), "IsSafeURL(%q)", raw)
	}
}

func TestCanonicalHost(t *testing.T) {
	t.Parallel()

	cases := []struct {
		raw  string
		want string
	}{
		{"127.1", "127.0.0.1"},
		{"2130706433", "127.0.0.1"},
		{"0x7f000001", "127.0.0.1"},
		{"0177.0.0.1", "127.0.0.1"},
		{"169.254.169.254.", "169.254.169.254"},
		{"192.168.257", "192.168.1.1"},
		{"Example.COM.", "example.com"},
		{"0:0:0:0:0:0:0:1", "::1"},
	}
	for _, tc := range cases {
		got, ok := canonicalHost(tc.raw)
		require.True(t, ok, tc.raw)
		require.Equal(t, tc.want, got, tc.raw)
	}
}

// Hostnames are never resolved, so names pointing at private space pass.
func TestIsSafeURLDoesNotResolveNames(t *testing.T) {
	t.Parallel()

	require.True(t, IsSafeURL("http://127.0.0.1.nip.io"))
	require.True(t, IsSafeURL("http://metadata.google.internal"))
}

func TestCheck(t *testing.T) {
	t.Parallel()

	require.NoError(t, Check("https://example.com"))
	err := Check("http://127.0.0.1")
	require.ErrorIs(t, err, screenshot.ErrUnsafeURL)
	require.Equal(t, screenshot.KindUnsafeURL, screenshot.KindOf(err))
}
