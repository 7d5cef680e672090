package labelary

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"

	"zplmerge/internal/zpl"
)

// Options configures a Client. Zero values fall back to the package defaults.
type Options struct {
	BaseURL    string
	Timeout    time.Duration
	MaxRetries int
	MaxBackoff time.Duration
	Throttle   Throttle
	Hooks      Hooks
}

// Client renders batches through the Labelary API, one call at a time.
type Client struct {
	http       *resty.Client
	throttle   Throttle
	hooks      Hooks
	maxRetries int
	maxBackoff time.Duration
	sleep      sleepFunc
	jitter     func() float64
}

// New creates a client. Retries are handled by Render itself, not by resty.
func New(opts Options) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.MaxRetries < 1 {
		opts.MaxRetries = DefaultMaxRetries
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = DefaultMaxBackoff
	}
	if opts.Throttle == nil {
		opts.Throttle = NewFixedDelay(DefaultRate)
	}

	httpClient := resty.New().
		SetBaseURL(strings.TrimRight(opts.BaseURL, "/")).
		SetTimeout(opts.Timeout).
		SetHeader("Accept", "application/pdf").
		SetHeader("Content-Type", "application/x-www-form-urlencoded").
		SetRetryCount(0).
		SetLogger(restyLogger{})

	return &Client{
		http:       httpClient,
		throttle:   opts.Throttle,
		hooks:      opts.Hooks,
		maxRetries: opts.MaxRetries,
		maxBackoff: opts.MaxBackoff,
		sleep:      sleepContext,
		jitter:     rand.Float64,
	}
}

// SetHooks replaces the progress hooks. Not safe while Render is running.
func (c *Client) SetHooks(h Hooks) { c.hooks = h }

type attemptClass int

const (
	attemptOK attemptClass = iota
	attemptTransient
	attemptHard
)

// attemptOutcome is the classified result of a single HTTP call.
type attemptOutcome struct {
	class    attemptClass
	status   int
	document []byte
	message  string
}

// Render delivers one batch. The throttle runs once before the first
// attempt. 429, 5xx and transport errors are retried with backoff; any other
// non-200 status stops immediately. Render never returns an error: every
// outcome, cancellation included, is described by the Result.
func (c *Client) Render(ctx context.Context, req Request) Result {
	batch := req.Batch.Index
	if err := req.Page.Validate(); err != nil {
		return Result{Failure: &Failure{Kind: KindInvalidRequest, Message: err.Error()}}
	}
	path := renderPath(req.Page)
	body := req.Batch.Payload()

	if err := c.throttle.Wait(ctx); err != nil {
		return canceled(0, err)
	}

	backoff := newBackoff(c.maxRetries, c.maxBackoff, c.jitter)
	var last attemptOutcome
	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return canceled(attempt-1, err)
		}
		c.hooks.attempt(Attempt{Batch: batch, Number: attempt, Max: c.maxRetries})

		last = c.post(ctx, path, body)
		switch last.class {
		case attemptOK:
			return Result{Document: last.document, Attempts: attempt}
		case attemptHard:
			log.Warn().Int("batch", batch).Int("status", last.status).Str("body", last.message).Msg("renderer rejected batch")
			return Result{Attempts: attempt, Failure: &Failure{Kind: KindHard, Status: last.status, Message: last.message}}
		}
		if err := ctx.Err(); err != nil {
			return canceled(attempt, err)
		}

		delay, stop := backoff.Next()
		if stop {
			break
		}
		log.Warn().Int("batch", batch).Int("attempt", attempt).Int("status", last.status).
			Dur("backoff", delay).Str("error", last.message).Msg("transient renderer failure, retrying")
		c.hooks.retry(Retry{
			Batch:   batch,
			Attempt: attempt,
			Max:     c.maxRetries,
			Status:  last.status,
			Message: last.message,
			Delay:   delay,
		})
		if err := ctx.Err(); err != nil {
			return canceled(attempt, err)
		}
		if err := c.sleep(ctx, delay); err != nil {
			return canceled(attempt, err)
		}
	}

	log.Error().Int("batch", batch).Int("attempts", c.maxRetries).Int("status", last.status).Msg("renderer retries exhausted")
	return Result{
		Attempts: c.maxRetries,
		Failure:  &Failure{Kind: KindRetriesExhausted, Status: last.status, Message: last.message},
	}
}

func (c *Client) post(ctx context.Context, path, body string) attemptOutcome {
	resp, err := c.http.R().SetContext(ctx).SetBody([]byte(body)).Post(path)
	if err != nil {
		return attemptOutcome{class: attemptTransient, message: zpl.Truncate(err.Error(), maxMessageRunes)}
	}

	code := resp.StatusCode()
	switch {
	case code == http.StatusOK:
		return attemptOutcome{class: attemptOK, status: code, document: resp.Body()}
	case code == http.StatusTooManyRequests || (code >= 500 && code < 600):
		return attemptOutcome{class: attemptTransient, status: code, message: responseMessage(resp)}
	default:
		return attemptOutcome{class: attemptHard, status: code, message: responseMessage(resp)}
	}
}

func responseMessage(resp *resty.Response) string {
	text := strings.TrimSpace(resp.String())
	if text == "" {
		text = http.StatusText(resp.StatusCode())
	}
	return zpl.Truncate(text, maxMessageRunes)
}

func canceled(attempts int, err error) Result {
	msg := err.Error()
	if errors.Is(err, context.DeadlineExceeded) {
		msg = "deadline exceeded"
	}
	return Result{Attempts: attempts, Failure: &Failure{Kind: KindCanceled, Message: msg}}
}

// renderPath builds /v1/printers/{dpmm}dpmm/labels/{w}x{h}/ for a validated page.
func renderPath(p Page) string {
	dpmm, _ := DensityFor(p.DPI)
	return fmt.Sprintf("/v1/printers/%ddpmm/labels/%sx%s/",
		dpmm,
		strconv.FormatFloat(p.WidthIn, 'f', -1, 64),
		strconv.FormatFloat(p.HeightIn, 'f', -1, 64),
	)
}

// restyLogger routes resty's own diagnostics into zerolog.
type restyLogger struct{}

func (restyLogger) Errorf(format string, v ...any) { log.Error().Msgf(format, v...) }
func (restyLogger) Warnf(format string, v ...any)  { log.Warn().Msgf(format, v...) }
func (restyLogger) Debugf(format string, v ...any) { log.Debug().Msgf(format, v...) }
