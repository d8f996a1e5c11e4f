package dispatcher

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/ai-job-matcher/internal/config"
	"github.com/fairyhunter13/ai-job-matcher/internal/domain"
)

type step struct {
	out string
	vec []float32
	err error
}

type fakeProvider struct {
	mu    sync.Mutex
	creds []string
	steps []step
}

func (f *fakeProvider) next(cred string) step {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creds = append(f.creds, cred)
	if len(f.steps) == 0 {
		return step{}
	}
	s := f.steps[0]
	f.steps = f.steps[1:]
	return s
}

func (f *fakeProvider) Generate(_ domain.Context, credential, _, _ string, _ int, _ float64) (string, error) {
	s := f.next(credential)
	return s.out, s.err
}

func (f *fakeProvider) Embed(_ domain.Context, credential, _, _ string) ([]float32, error) {
	s := f.next(credential)
	return s.vec, s.err
}

type fakeClock struct {
	mu     sync.Mutex
	t      time.Time
	sleeps []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) sleep(_ domain.Context, d time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
	c.sleeps = append(c.sleeps, d)
	return nil
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func testConfig() config.Config {
	return config.Config{
		AIMinCallGap:   2 * time.Second,
		AISlotCooldown: 60 * time.Second,
		EmbeddingDim:   3,
		GenerateModel:  "gen-model",
		EmbeddingModel: "embed-model",
	}
}

func newTestDispatcher(t *testing.T, keys []string, p *fakeProvider) (*Dispatcher, *fakeClock) {
	t.Helper()
	cfg := testConfig()
	cfg.GeminiAPIKeys = keys
	d, err := New(cfg, p)
	require.NoError(t, err)
	clk := newFakeClock()
	d.now = clk.now
	d.sleep = clk.sleep
	return d, clk
}

func TestNewRequiresCredentials(t *testing.T) {
	t.Parallel()
	_, err := New(config.Config{}, &fakeProvider{})
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestRotatesToNextSlotOnRateLimit(t *testing.T) {
	t.Parallel()
	p := &fakeProvider{steps: []step{
		{err: fmt.Errorf("%w: status=429", domain.ErrUpstreamRateLimit)},
		{out: "ok"},
	}}
	d, _ := newTestDispatcher(t, []string{"key-a", "key-b"}, p)

	out, err := d.GenerateText(context.Background(), "prompt")
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, []string{"key-a", "key-b"}, p.creds)
}

func TestRoundRobinAcrossCalls(t *testing.T) {
	t.Parallel()
	p := &fakeProvider{steps: []step{{out: "1"}, {out: "2"}, {out: "3"}, {out: "4"}}}
	d, _ := newTestDispatcher(t, []string{"key-a", "key-b", "key-c"}, p)

	for i := 0; i < 4; i++ {
		_, err := d.GenerateText(context.Background(), "p")
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"key-a", "key-b", "key-c", "key-a"}, p.creds)
}

func TestExhaustedAfterRetryBudget(t *testing.T) {
	t.Parallel()
	rl := fmt.Errorf("%w: status=429", domain.ErrUpstreamRateLimit)
	p := &fakeProvider{steps: []step{{err: rl}, {err: rl}, {err: rl}}}
	d, _ := newTestDispatcher(t, []string{"key-a", "key-b"}, p)

	_, err := d.GenerateText(context.Background(), "p")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrProviderExhausted)
	// Budget defaults to pool size: two attempts, no more.
	assert.Len(t, p.creds, 2)
}

func TestSingleKeyPoolExhaustsImmediately(t *testing.T) {
	t.Parallel()
	rl := fmt.Errorf("%w: status=429", domain.ErrUpstreamRateLimit)
	p := &fakeProvider{steps: []step{{err: rl}}}
	d, _ := newTestDispatcher(t, []string{"solo"}, p)

	_, err := d.GenerateText(context.Background(), "p")
	assert.ErrorIs(t, err, domain.ErrProviderExhausted)
	assert.Len(t, p.creds, 1)
}

func TestThrottleFloorBetweenSubmissions(t *testing.T) {
	t.Parallel()
	p := &fakeProvider{steps: []step{{out: "1"}, {out: "2"}}}
	d, clk := newTestDispatcher(t, []string{"key-a"}, p)

	_, err := d.GenerateText(context.Background(), "p")
	require.NoError(t, err)
	// Second call lands 500ms later; throttle must cover the remaining 1.5s.
	clk.advance(500 * time.Millisecond)
	_, err = d.GenerateText(context.Background(), "p")
	require.NoError(t, err)
	require.Len(t, clk.sleeps, 1)
	assert.Equal(t, 1500*time.Millisecond, clk.sleeps[0])
}

func TestNoThrottleWaitWhenGapElapsed(t *testing.T) {
	t.Parallel()
	p := &fakeProvider{steps: []step{{out: "1"}, {out: "2"}}}
	d, clk := newTestDispatcher(t, []string{"key-a"}, p)

	_, err := d.GenerateText(context.Background(), "p")
	require.NoError(t, err)
	clk.advance(3 * time.Second)
	_, err = d.GenerateText(context.Background(), "p")
	require.NoError(t, err)
	assert.Empty(t, clk.sleeps)
}

func TestWaitsForEarliestCooldownWhenAllSlotsCooling(t *testing.T) {
	t.Parallel()
	rl := fmt.Errorf("%w: status=429", domain.ErrUpstreamRateLimit)
	p := &fakeProvider{steps: []step{{err: rl}, {out: "ok"}}}
	cfg := testConfig()
	cfg.GeminiAPIKeys = []string{"solo"}
	cfg.AIMaxRateLimitRetries = 2
	d, err := New(cfg, p)
	require.NoError(t, err)
	clk := newFakeClock()
	d.now = clk.now
	d.sleep = clk.sleep

	out, err := d.GenerateText(context.Background(), "p")
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	// Second attempt first pays the 2s throttle gap, then waits out the
	// remaining 58s of the slot's 60s rest.
	assert.Equal(t, []time.Duration{2 * time.Second, 58 * time.Second}, clk.sleeps)
	assert.Len(t, p.creds, 2)
}

func TestCooldownWaitHonorsDeadline(t *testing.T) {
	t.Parallel()
	rl := fmt.Errorf("%w: status=429", domain.ErrUpstreamRateLimit)
	p := &fakeProvider{steps: []step{{err: rl}, {out: "never"}}}
	cfg := testConfig()
	cfg.GeminiAPIKeys = []string{"solo"}
	cfg.AIMaxRateLimitRetries = 2
	d, err := New(cfg, p)
	require.NoError(t, err)
	clk := newFakeClock()
	d.now = clk.now
	d.sleep = func(_ domain.Context, _ time.Duration) error {
		return context.DeadlineExceeded
	}

	_, err = d.GenerateText(context.Background(), "p")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.ErrorIs(t, err, domain.ErrProviderExhausted)
	assert.Len(t, p.creds, 1)
}

func TestThrottleDeadlineBeforeAnyAttemptIsNotExhaustion(t *testing.T) {
	t.Parallel()
	p := &fakeProvider{steps: []step{{out: "ok"}, {out: "never"}}}
	d, _ := newTestDispatcher(t, []string{"key-a"}, p)

	_, err := d.GenerateText(context.Background(), "p")
	require.NoError(t, err)
	d.sleep = func(_ domain.Context, _ time.Duration) error {
		return context.DeadlineExceeded
	}

	// The pool never rate limited anyone; a deadline dying in the throttle
	// gap is a plain timeout.
	_, err = d.GenerateText(context.Background(), "p")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NotErrorIs(t, err, domain.ErrProviderExhausted)
}

func TestNonRateLimitErrorIsFinal(t *testing.T) {
	t.Parallel()
	p := &fakeProvider{steps: []step{
		{err: fmt.Errorf("%w: status=400", domain.ErrInvalidArgument)},
	}}
	d, _ := newTestDispatcher(t, []string{"key-a", "key-b"}, p)

	_, err := d.GenerateText(context.Background(), "p")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
	assert.Len(t, p.creds, 1)
}

func TestGenerateJSONDecodesFencedResponse(t *testing.T) {
	t.Parallel()
	p := &fakeProvider{steps: []step{
		{out: "```json\n{\"skills\": [\"Go\", \"Kafka\"], \"seniority\": \"Senior\"}\n```"},
	}}
	d, _ := newTestDispatcher(t, []string{"key-a"}, p)

	var out struct {
		Skills    []string `json:"skills"`
		Seniority string   `json:"seniority"`
	}
	require.NoError(t, d.GenerateJSON(context.Background(), "p", &out))
	assert.Equal(t, []string{"Go", "Kafka"}, out.Skills)
	assert.Equal(t, "Senior", out.Seniority)
}

func TestGenerateJSONRejectsUnrepairableResponse(t *testing.T) {
	t.Parallel()
	p := &fakeProvider{steps: []step{{out: "I could not produce an answer."}}}
	d, _ := newTestDispatcher(t, []string{"key-a"}, p)

	var out map[string]any
	err := d.GenerateJSON(context.Background(), "p", &out)
	assert.ErrorIs(t, err, domain.ErrSchemaInvalid)
}

func TestEmbedRejectsWrongDimension(t *testing.T) {
	t.Parallel()
	p := &fakeProvider{steps: []step{{vec: []float32{0.1, 0.2}}}}
	d, _ := newTestDispatcher(t, []string{"key-a"}, p)

	_, err := d.Embed(context.Background(), "text")
	assert.ErrorIs(t, err, domain.ErrSchemaInvalid)
}

func TestEmbedReturnsVector(t *testing.T) {
	t.Parallel()
	p := &fakeProvider{steps: []step{{vec: []float32{0.1, 0.2, 0.3}}}}
	d, _ := newTestDispatcher(t, []string{"key-a"}, p)

	vec, err := d.Embed(context.Background(), "text")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, vec)
}
