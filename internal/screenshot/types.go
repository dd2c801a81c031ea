package screenshot

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Resolution is a viewport size expressed as "WxH".
type Resolution string

// Allow-listed resolutions.
const (
	Resolution1920x1080 Resolution = "1920x1080"
	Resolution1366x768  Resolution = "1366x768"
	Resolution1280x720  Resolution = "1280x720"
	Resolution1024x768  Resolution = "1024x768"
	Resolution768x1024  Resolution = "768x1024"
	Resolution375x667   Resolution = "375x667"

	// Extended configurations only.
	Resolution3840x2160 Resolution = "3840x2160"
	Resolution3440x1440 Resolution = "3440x1440"
)

// DefaultResolution is used when a request omits its resolution or when the
// supplied value cannot be parsed.
const DefaultResolution = Resolution1280x720

const (
	defaultWidth  = 1280
	defaultHeight = 720
)

// StandardResolutions lists the resolutions accepted by default.
var StandardResolutions = []Resolution{
	Resolution1920x1080,
	Resolution1366x768,
	Resolution1280x720,
	Resolution1024x768,
	Resolution768x1024,
	Resolution375x667,
}

// ExtendedResolutions are accepted only when extended resolutions are enabled.
var ExtendedResolutions = []Resolution{
	Resolution3840x2160,
	Resolution3440x1440,
}

// Dimensions parses the resolution into width and height. Malformed values
// fall back to 1280x720 rather than failing.
func (r Resolution) Dimensions() (int, int) {
	w, h, ok := ParseResolution(string(r))
	if !ok {
		return defaultWidth, defaultHeight
	}
	return w, h
}

// ParseResolution splits "WxH" into positive integers.
func ParseResolution(raw string) (int, int, bool) {
	left, right, found := strings.Cut(strings.TrimSpace(raw), "x")
	if !found {
		return 0, 0, false
	}
	w, err := strconv.Atoi(left)
	if err != nil || w <= 0 {
		return 0, 0, false
	}
	h, err := strconv.Atoi(right)
	if err != nil || h <= 0 {
		return 0, 0, false
	}
	return w, h, true
}

// UserAgent is an emulated browser identity.
type UserAgent string

// AllowedUserAgents lists the browser identities a request may emulate.
var AllowedUserAgents = []UserAgent{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:121.0) Gecko/20100101 Firefox/121.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 14_1) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Safari/605.1.15",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36 Edg/120.0.0.0",
	"Mozilla/5.0 (iPhone; CPU iPhone OS 17_1 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Mobile/15E148 Safari/604.1",
	"Mozilla/5.0 (Linux; Android 10; SM-G973F) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Mobile Safari/537.36",
	"Mozilla/5.0 (Linux; Android 10; SM-G973F) AppleWebKit/537.36 (KHTML, like Gecko) SamsungBrowser/18.0 Chrome/120.0.0.0 Mobile Safari/537.36",
}

// WaitCondition is the page readiness state navigation waits for.
type WaitCondition string

// Supported readiness conditions.
const (
	WaitLoad             WaitCondition = "load"
	WaitDOMContentLoaded WaitCondition = "domcontentloaded"
	WaitNetworkIdle0     WaitCondition = "networkidle0"
	WaitNetworkIdle2     WaitCondition = "networkidle2"
)

// DefaultWaitCondition waits until at most two network connections remain.
const DefaultWaitCondition = WaitNetworkIdle2

// Valid reports whether the condition is one of the supported values.
func (w WaitCondition) Valid() bool {
	switch w {
	case WaitLoad, WaitDOMContentLoaded, WaitNetworkIdle0, WaitNetworkIdle2:
		return true
	default:
		return false
	}
}

// DefaultNavigationTimeout bounds navigation when a request does not set one.
const DefaultNavigationTimeout = 30 * time.Second

// Request describes one capture.
type Request struct {
	URL           string
	Resolution    Resolution
	UserAgent     UserAgent
	EnableAdblock bool
	Timeout       time.Duration
	// FullPage defaults to true when nil.
	FullPage  *bool
	WaitUntil WaitCondition
}

// WantsFullPage resolves the FullPage default.
func (r Request) WantsFullPage() bool {
	if r.FullPage == nil {
		return true
	}
	return *r.FullPage
}

// NavigationTimeout resolves the Timeout default.
func (r Request) NavigationTimeout() time.Duration {
	if r.Timeout > 0 {
		return r.Timeout
	}
	return DefaultNavigationTimeout
}

// WaitCondition resolves the WaitUntil default.
func (r Request) WaitCondition() WaitCondition {
	if r.WaitUntil == "" {
		return DefaultWaitCondition
	}
	return r.WaitUntil
}

// Limits bounds what the request layer accepts.
type Limits struct {
	AllowExtended bool
	MaxWidth      int
	MaxHeight     int
}

// Validate checks the request against the resolution and user-agent
// allow-lists. URL safety is checked separately.
func (r Request) Validate(limits Limits) error {
	if strings.TrimSpace(r.URL) == "" {
		return fmt.Errorf("%w: url is required", ErrInvalidRequest)
	}
	res := r.Resolution
	if res == "" {
		res = DefaultResolution
	}
	if !resolutionAllowed(res, limits.AllowExtended) {
		return fmt.Errorf("%w: invalid resolution %q", ErrInvalidRequest, res)
	}
	w, h := res.Dimensions()
	if limits.MaxWidth > 0 && w > limits.MaxWidth {
		return fmt.Errorf("%w: width %d exceeds maximum %d", ErrInvalidRequest, w, limits.MaxWidth)
	}
	if limits.MaxHeight > 0 && h > limits.MaxHeight {
		return fmt.Errorf("%w: height %d exceeds maximum %d", ErrInvalidRequest, h, limits.MaxHeight)
	}
	if r.UserAgent != "" && !userAgentAllowed(r.UserAgent) {
		return fmt.Errorf("%w: invalid user agent", ErrInvalidRequest)
	}
	if r.WaitUntil != "" && !r.WaitUntil.Valid() {
		return fmt.Errorf("%w: invalid waitUntil %q", ErrInvalidRequest, r.WaitUntil)
	}
	if r.Timeout < 0 {
		return fmt.Errorf("%w: timeout must be >= 0", ErrInvalidRequest)
	}
	return nil
}

func resolutionAllowed(res Resolution, extended bool) bool {
	for _, allowed := range StandardResolutions {
		if res == allowed {
			return true
		}
	}
	if !extended {
		return false
	}
	for _, allowed := range ExtendedResolutions {
		if res == allowed {
			return true
		}
	}
	return false
}

func userAgentAllowed(ua UserAgent) bool {
	for _, allowed := range AllowedUserAgents {
		if ua == allowed {
			return true
		}
	}
	return false
}

// Record is the persisted metadata of a stored screenshot.
type Record struct {
	ID         string     `json:"id"`
	URL        string     `json:"url"`
	Resolution Resolution `json:"resolution"`
	UserAgent  UserAgent  `json:"user_agent,omitempty"`
	Path       string     `json:"path"`
	BlobURI    string     `json:"blob_uri,omitempty"`
	Hash       string     `json:"hash"`
	Bytes      int        `json:"bytes"`
	Width      int        `json:"width"`
	Height     int        `json:"height"`
	CreatedAt  time.Time  `json:"created_at"`
	DurationMs int64      `json:"duration_ms"`
}

// CaptureMetrics is reported to the Recorder after every capture attempt.
type CaptureMetrics struct {
	Duration   time.Duration
	Resolution Resolution
	UserAgent  UserAgent
	Success    bool
	QueueWait  time.Duration
	Err        error
}

// CaptureEvent is published after a screenshot is stored.
type CaptureEvent struct {
	ID         string     `json:"id"`
	URL        string     `json:"url"`
	Resolution Resolution `json:"resolution"`
	BlobURI    string     `json:"blob_uri,omitempty"`
	Hash       string     `json:"hash"`
	CreatedAt  time.Time  `json:"created_at"`
}
