package retry

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"

	"github.com/sr-oliveiraa/prfi-api-tokenization/envelope"
)

// scriptedDoer replays a fixed sequence of (status, retryAfter) responses,
// one per call, and records how many times Do was invoked.
type scriptedDoer struct {
	statuses    []int
	retryAfters []string
	calls       int
}

func (d *scriptedDoer) Do(req *fasthttp.Request, resp *fasthttp.Response) error {
	i := d.calls
	d.calls++
	if i >= len(d.statuses) {
		i = len(d.statuses) - 1
	}
	resp.SetStatusCode(d.statuses[i])
	if i < len(d.retryAfters) && d.retryAfters[i] != "" {
		resp.Header.Set("Retry-After", d.retryAfters[i])
	}
	resp.SetBody([]byte(`{}`))
	return nil
}

func testEvent() *envelope.Event {
	return envelope.NewEvent("order.created", "https://primary.example.com/hook", envelope.MethodPost, nil, json.RawMessage(`{}`), 10)
}

func quickConfig() Config {
	cfg := DefaultConfig
	cfg.InitialDelay = time.Millisecond
	cfg.MaxDelay = 5 * time.Millisecond
	cfg.Jitter = false
	return cfg
}

func TestSend_SucceedsOnFirstAttempt(t *testing.T) {
	doer := &scriptedDoer{statuses: []int{200}}
	e := NewEngine(quickConfig(), nil, doer)

	resp, err := e.Send(context.Background(), testEvent())
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, 0, resp.RetriesUsed)
	assert.Equal(t, 1, doer.calls)
}

func TestSend_RetriesOnServerErrorThenSucceeds(t *testing.T) {
	doer := &scriptedDoer{statuses: []int{500, 500, 200}}
	cfg := quickConfig()
	cfg.MaxAttempts = 3
	e := NewEngine(cfg, nil, doer)

	resp, err := e.Send(context.Background(), testEvent())
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, 2, resp.RetriesUsed)
	assert.Equal(t, 3, doer.calls)
}

func TestSend_TerminalOnNonRetryableStatus(t *testing.T) {
	doer := &scriptedDoer{statuses: []int{400}}
	cfg := quickConfig()
	cfg.MaxAttempts = 3
	e := NewEngine(cfg, nil, doer)

	_, err := e.Send(context.Background(), testEvent())
	require.Error(t, err)
	assert.Equal(t, 1, doer.calls, "a terminal 4xx must not be retried")
}

func TestSend_FallsBackAfterPrimaryExhausted(t *testing.T) {
	doer := &scriptedDoer{statuses: []int{500, 500, 200}}
	cfg := quickConfig()
	cfg.MaxAttempts = 2
	cfg.FallbackEnabled = true
	cfg.FallbackURL = "https://fallback.example.com/hook"
	cfg.MaxFallbackAttempts = 2
	e := NewEngine(cfg, nil, doer)

	resp, err := e.Send(context.Background(), testEvent())
	require.NoError(t, err)
	assert.True(t, resp.FallbackUsed)
}

func TestSend_HonorsRetryAfterOn429(t *testing.T) {
	doer := &scriptedDoer{statuses: []int{429, 200}, retryAfters: []string{"0", ""}}
	cfg := quickConfig()
	cfg.MaxAttempts = 2
	e := NewEngine(cfg, nil, doer)

	resp, err := e.Send(context.Background(), testEvent())
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
}

func TestDelay_CapsAtMaxDelay(t *testing.T) {
	cfg := Config{InitialDelay: time.Second, Multiplier: 10, MaxDelay: 2 * time.Second, Jitter: false}
	d := Delay(cfg, 5)
	assert.LessOrEqual(t, d, 2*time.Second)
}

func TestDelay_GrowsExponentiallyBeforeCap(t *testing.T) {
	cfg := Config{InitialDelay: time.Second, Multiplier: 2, MaxDelay: time.Minute, Jitter: false}
	d1 := Delay(cfg, 1)
	d2 := Delay(cfg, 2)
	assert.Equal(t, time.Second, d1)
	assert.Equal(t, 2*time.Second, d2)
}

func TestRetryable_ClassifiesStatusCodes(t *testing.T) {
	assert.True(t, Retryable(500, false))
	assert.True(t, Retryable(429, false))
	assert.True(t, Retryable(0, true))
	assert.False(t, Retryable(404, false))
	assert.False(t, Retryable(200, false))
}

func TestSuccess_RangeCheck(t *testing.T) {
	assert.True(t, Success(200))
	assert.True(t, Success(399))
	assert.False(t, Success(400))
	assert.False(t, Success(199))
}

func TestRetryAfterFromHeader_ParsesSeconds(t *testing.T) {
	assert.Equal(t, 5*time.Second, RetryAfterFromHeader("5"))
	assert.Equal(t, time.Duration(0), RetryAfterFromHeader(""))
	assert.Equal(t, time.Duration(0), RetryAfterFromHeader("not-a-number"))
}
