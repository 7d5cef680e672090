package labelary

import (
	"errors"
	"fmt"
	"time"

	"zplmerge/internal/pack"
)

const (
	DefaultBaseURL    = "https://api.labelary.com"
	DefaultTimeout    = 30 * time.Second
	DefaultMaxRetries = 5
	DefaultMaxBackoff = 60 * time.Second
	DefaultRate       = 2.0

	maxMessageRunes = 300
)

var (
	ErrUnsupportedDPI = errors.New("unsupported resolution")
	ErrInvalidPage    = errors.New("invalid page size")
)

// densities maps printer resolution (dpi) to Labelary's dots-per-millimetre unit.
var densities = map[int]int{
	203: 8,
	300: 12,
	600: 24,
}

// DensityFor returns the density unit used in the renderer URL for dpi.
func DensityFor(dpi int) (int, error) {
	dpmm, ok := densities[dpi]
	if !ok {
		return 0, fmt.Errorf("%w: %d dpi (want 203, 300 or 600)", ErrUnsupportedDPI, dpi)
	}
	return dpmm, nil
}

// Page is the physical label format requested from the renderer.
type Page struct {
	WidthIn  float64 `json:"width_in" yaml:"width_in" validate:"gt=0"`
	HeightIn float64 `json:"height_in" yaml:"height_in" validate:"gt=0"`
	DPI      int     `json:"dpi" yaml:"dpi" validate:"oneof=203 300 600"`
}

// Validate checks the page before any call is made.
func (p Page) Validate() error {
	if p.WidthIn <= 0 || p.HeightIn <= 0 {
		return fmt.Errorf("%w: %gx%g in", ErrInvalidPage, p.WidthIn, p.HeightIn)
	}
	_, err := DensityFor(p.DPI)
	return err
}

// Request is one renderer call: a packed batch and the page format.
type Request struct {
	Batch pack.Batch
	Page  Page
}

// FailureKind tags why a batch could not be rendered.
type FailureKind string

const (
	// KindHard is a non-retryable response such as 400, 404 or 413.
	KindHard FailureKind = "hard_failure"
	// KindRetriesExhausted means every attempt hit a transient failure.
	KindRetriesExhausted FailureKind = "retries_exhausted"
	// KindCanceled means the caller's context ended the delivery.
	KindCanceled FailureKind = "canceled"
	// KindInvalidRequest means the request was never sent, e.g. a bad page.
	KindInvalidRequest FailureKind = "invalid_request"
)

// Failure describes an unsuccessful delivery. Status 0 on exhausted retries
// marks a transport error; other kinds without a response carry no status.
type Failure struct {
	Kind    FailureKind `json:"kind"`
	Status  int         `json:"status"`
	Message string      `json:"message"`
}

// Transport reports whether the last attempt failed before any HTTP response.
func (f Failure) Transport() bool {
	return f.Status == 0 && f.Kind == KindRetriesExhausted
}

func (f Failure) Error() string {
	switch {
	case f.Status > 0:
		return fmt.Sprintf("%s: http %d: %s", f.Kind, f.Status, f.Message)
	case f.Transport():
		return fmt.Sprintf("%s: transport error: %s", f.Kind, f.Message)
	default:
		return fmt.Sprintf("%s: %s", f.Kind, f.Message)
	}
}

// Result is the outcome of rendering one batch: a document or a failure.
type Result struct {
	Document []byte
	Attempts int
	Failure  *Failure
}

// OK reports whether the batch was rendered.
func (r Result) OK() bool { return r.Failure == nil }

// Attempt is reported before each call to the renderer.
type Attempt struct {
	Batch  int
	Number int
	Max    int
}

// Retry is reported when a transient failure schedules another attempt.
type Retry struct {
	Batch   int
	Attempt int
	Max     int
	Status  int
	Message string
	Delay   time.Duration
}

// Hooks receive progress notifications from the client. Nil fields are skipped.
type Hooks struct {
	OnAttempt func(Attempt)
	OnRetry   func(Retry)
}

func (h Hooks) attempt(a Attempt) {
	if h.OnAttempt != nil {
		h.OnAttempt(a)
	}
}

func (h Hooks) retry(r Retry) {
	if h.OnRetry != nil {
		h.OnRetry(r)
	}
}
