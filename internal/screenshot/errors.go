package screenshot

import "errors"

// Error kinds. Callers match them with errors.Is; wrapped causes keep their
// own chain via multi-%w formatting.
var (
	ErrUnsafeURL           = errors.New("unsafe url")
	ErrInvalidRequest      = errors.New("invalid request")
	ErrPoolExhausted       = errors.New("browser pool exhausted")
	ErrBrowserLaunchFailed = errors.New("browser launch failed")
	ErrNavigationTimeout   = errors.New("navigation timeout")
	ErrNavigationFailed    = errors.New("navigation failed")
	ErrCaptureFailed       = errors.New("capture failed")
	ErrCancelled           = errors.New("cancelled")
	ErrNotFound            = errors.New("not found")
)

// Kind is the stable, transport-agnostic name of an error kind.
type Kind string

// Known kinds.
const (
	KindUnsafeURL           Kind = "UnsafeUrl"
	KindInvalidRequest      Kind = "InvalidRequest"
	KindPoolExhausted       Kind = "PoolExhausted"
	KindBrowserLaunchFailed Kind = "BrowserLaunchFailed"
	KindNavigationTimeout   Kind = "NavigationTimeout"
	KindNavigationFailed    Kind = "NavigationFailed"
	KindCaptureFailed       Kind = "CaptureFailed"
	KindCancelled           Kind = "Cancelled"
	KindNotFound            Kind = "NotFound"
	KindInternal            Kind = "Internal"
)

var kinds = []struct {
	err  error
	kind Kind
}{
	{ErrUnsafeURL, KindUnsafeURL},
	{ErrInvalidRequest, KindInvalidRequest},
	{ErrPoolExhausted, KindPoolExhausted},
	{ErrBrowserLaunchFailed, KindBrowserLaunchFailed},
	{ErrNavigationTimeout, KindNavigationTimeout},
	{ErrNavigationFailed, KindNavigationFailed},
	{ErrCaptureFailed, KindCaptureFailed},
	{ErrCancelled, KindCancelled},
	{ErrNotFound, KindNotFound},
}

// KindOf classifies err. Unknown errors are KindInternal; nil yields "".
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindInternal
}
