// Package retry implements the resilient HTTP request engine (spec §4.1,
// C3): exponential backoff with jitter, HMAC-signed event envelopes, and an
// optional fallback URL. The underlying transport is valyala/fasthttp, a
// low-allocation client well suited to a high-event-volume retry loop with
// hard per-attempt deadlines.
package retry

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/sr-oliveiraa/prfi-api-tokenization/envelope"
	"github.com/sr-oliveiraa/prfi-api-tokenization/errs"
	"github.com/sr-oliveiraa/prfi-api-tokenization/log"
	"github.com/sr-oliveiraa/prfi-api-tokenization/metrics"
)

var logger = log.NewModuleLogger("retry")

// Response is returned on the first 2xx response observed, per spec §4.1.
type Response struct {
	StatusCode    int
	Body          []byte
	ElapsedMs     int64
	RetriesUsed   int
	FallbackUsed  bool
}

// Doer abstracts the transport so tests can substitute a fake without a
// real network. *fasthttp.Client satisfies it via the adapter below.
type Doer interface {
	Do(req *fasthttp.Request, resp *fasthttp.Response) error
}

// fasthttpDoer adapts *fasthttp.Client to Doer, applying a per-call deadline.
type fasthttpDoer struct {
	client  *fasthttp.Client
	timeout time.Duration
}

func (d *fasthttpDoer) Do(req *fasthttp.Request, resp *fasthttp.Response) error {
	return d.client.DoTimeout(req, resp, d.timeout)
}

// Engine is the resilient request engine described in spec §4.1.
type Engine struct {
	cfg    Config
	signer *envelope.Signer
	doer   Doer
}

// NewEngine builds an Engine. doer may be nil to use a default
// fasthttp.Client sized for the configured RequestTimeout.
func NewEngine(cfg Config, signer *envelope.Signer, doer Doer) *Engine {
	if doer == nil {
		doer = &fasthttpDoer{
			client:  &fasthttp.Client{MaxConnsPerHost: 512},
			timeout: cfg.RequestTimeout,
		}
	}
	return &Engine{cfg: cfg, signer: signer, doer: doer}
}

// Send performs an Event's HTTP request with retry and fallback semantics.
// It returns on the first 2xx response; on exhaustion it returns
// errs.KindRetryable (wrapping the last observed error).
func (e *Engine) Send(ctx context.Context, ev *envelope.Event) (*Response, error) {
	if err := ev.Validate(); err != nil {
		return nil, err
	}

	start := time.Now()
	metrics.RequestsTotal.Inc(1)

	targetURL := ev.URL
	fallbackTried := false
	totalRetries := 0
	attempts := 0

	maxAttempts := e.cfg.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error

	for round := 0; ; round++ {
		for k := 1; k <= maxAttempts; k++ {
			select {
			case <-ctx.Done():
				return nil, errs.New(errs.KindRetryable, "retry", "Send", ev.EventID, ctx.Err())
			default:
			}

			ev.Attempts = k
			if e.signer != nil {
				if err := e.signer.Sign(ev); err != nil {
					return nil, err
				}
			}
			status, body, retryAfter, networkErr := e.doOnce(ctx, targetURL, ev)
			attempts++

			if networkErr == nil && Success(status) {
				metrics.RequestsSuccess.Inc(1)
				metrics.RequestDurationMs.Update(time.Since(start).Milliseconds())
				return &Response{
					StatusCode:   status,
					Body:         body,
					ElapsedMs:    time.Since(start).Milliseconds(),
					RetriesUsed:  totalRetries,
					FallbackUsed: fallbackTried,
				}, nil
			}

			isNetworkErr := networkErr != nil
			if isNetworkErr {
				lastErr = networkErr
			} else {
				lastErr = fmt.Errorf("non-success status %d", status)
			}

			retryable := Retryable(status, isNetworkErr)
			if !retryable {
				return nil, errs.New(errs.KindTerminal, "retry", "Send", ev.EventID, lastErr)
			}

			if k < maxAttempts {
				totalRetries++
				metrics.RetriesTotal.Inc(1)
				delay := Delay(e.cfg, k)
				if status == 429 && retryAfter > 0 {
					if retryAfter > e.cfg.MaxDelay {
						retryAfter = e.cfg.MaxDelay
					}
					delay = retryAfter
				}
				if err := sleepCtx(ctx, delay); err != nil {
					return nil, errs.New(errs.KindRetryable, "retry", "Send", ev.EventID, err)
				}
			}
		}

		if e.cfg.FallbackEnabled && !fallbackTried {
			fallback := e.resolveFallback(ev.URL)
			if fallback == "" {
				break
			}
			fallbackTried = true
			metrics.FallbacksUsed.Inc(1)
			targetURL = fallback
			ev.Attempts = 0
			if e.cfg.MaxFallbackAttempts > 0 {
				maxAttempts = e.cfg.MaxFallbackAttempts
			}
			continue
		}
		break
	}

	return nil, errs.New(errs.KindRetryable, "retry", "Send", ev.EventID,
		fmt.Errorf("retry exhausted after %d attempts: %w", attempts, lastErr))
}

// doOnce performs a single HTTP attempt and returns (statusCode, body,
// retryAfter, networkErr). It never returns both a non-zero status and a
// non-nil networkErr.
func (e *Engine) doOnce(ctx context.Context, targetURL string, ev *envelope.Event) (int, []byte, time.Duration, error) {
	body, err := ev.CanonicalJSON()
	if err != nil {
		return 0, nil, 0, err
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(targetURL)
	req.Header.SetMethod(string(ev.Method))
	req.SetBody(body)
	req.Header.SetContentType("application/json")

	for k, v := range ev.Headers {
		req.Header.Set(k, v)
	}
	for k, v := range ev.WireHeaders() {
		req.Header.Set(k, v)
	}

	if err := e.doer.Do(req, resp); err != nil {
		return 0, nil, 0, err
	}

	out := make([]byte, len(resp.Body()))
	copy(out, resp.Body())
	retryAfter := RetryAfterFromHeader(string(resp.Header.Peek("Retry-After")))
	return resp.StatusCode(), out, retryAfter, nil
}

// resolveFallback returns the configured fallback URL, or, when
// auto-discovery is enabled and no explicit fallback_url is set, derives
// one by substituting the primary host for a discovery suffix
// (supplemented from original_source/prfi-core/cliente_descentralizado.py).
func (e *Engine) resolveFallback(primary string) string {
	if e.cfg.FallbackURL != "" {
		return e.cfg.FallbackURL
	}
	if !e.cfg.AutoDiscoverFallback || e.cfg.FallbackSuffix == "" {
		return ""
	}
	u, err := url.Parse(primary)
	if err != nil {
		return ""
	}
	host := u.Hostname()
	idx := strings.Index(host, ".")
	if idx < 0 {
		return ""
	}
	u.Host = host[:idx] + e.cfg.FallbackSuffix
	return u.String()
}

// RetryAfterFromHeader parses a Retry-After header value (seconds form)
// into a Duration, honoring spec §4.1's "429 honors Retry-After" rule.
func RetryAfterFromHeader(value string) time.Duration {
	if value == "" {
		return 0
	}
	secs, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
