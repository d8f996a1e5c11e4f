// Package dispatcher serializes access to the AI provider across a pool of
// credential slots. It enforces a global throttle floor between submissions,
// rotates slots round-robin, rests a slot after a rate-limit signal, and gives
// up with an exhaustion error once the retry budget is spent.
package dispatcher

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fairyhunter13/ai-job-matcher/internal/adapter/ai"
	"github.com/fairyhunter13/ai-job-matcher/internal/adapter/ai/tokencount"
	"github.com/fairyhunter13/ai-job-matcher/internal/adapter/observability"
	"github.com/fairyhunter13/ai-job-matcher/internal/config"
	"github.com/fairyhunter13/ai-job-matcher/internal/domain"
)

type slot struct {
	credential   string
	coolingUntil time.Time
}

// Dispatcher owns the credential pool. All submissions go through a single
// mutex so the throttle floor holds across every caller in the process.
type Dispatcher struct {
	cfg      config.Config
	provider domain.Provider
	cleaner  *ai.ResponseCleaner

	mu       sync.Mutex
	slots    []*slot
	cursor   int
	lastCall time.Time

	// Injectable for tests.
	now   func() time.Time
	sleep func(domain.Context, time.Duration) error
}

// New builds a dispatcher over the configured credential pool.
func New(cfg config.Config, provider domain.Provider) (*Dispatcher, error) {
	creds := cfg.Credentials()
	if len(creds) == 0 {
		return nil, fmt.Errorf("%w: no provider credentials configured", domain.ErrInvalidArgument)
	}
	slots := make([]*slot, len(creds))
	for i, c := range creds {
		slots[i] = &slot{credential: c}
	}
	return &Dispatcher{
		cfg:      cfg,
		provider: provider,
		cleaner:  ai.NewResponseCleaner(),
		slots:    slots,
		now:      time.Now,
		sleep:    sleepCtx,
	}, nil
}

// PoolSize returns the number of credential slots.
func (d *Dispatcher) PoolSize() int { return len(d.slots) }

func sleepCtx(ctx domain.Context, dur time.Duration) error {
	if dur <= 0 {
		return nil
	}
	t := time.NewTimer(dur)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// waitThrottle blocks until at least AIMinCallGap has elapsed since the
// previous submission.
func (d *Dispatcher) waitThrottle(ctx domain.Context) error {
	gap := d.cfg.AIMinCallGap
	if gap <= 0 || d.lastCall.IsZero() {
		return nil
	}
	wait := gap - d.now().Sub(d.lastCall)
	if wait <= 0 {
		return nil
	}
	observability.DispatcherThrottleWait.Observe(wait.Seconds())
	if err := d.sleep(ctx, wait); err != nil {
		return fmt.Errorf("op=dispatcher.waitThrottle: %w", err)
	}
	return nil
}

// selectSlot returns the next available slot index, advancing the cursor past
// it. When every slot is cooling it waits for the earliest cooldown to lapse;
// the caller's deadline bounds that wait.
func (d *Dispatcher) selectSlot(ctx domain.Context) (int, error) {
	now := d.now()
	n := len(d.slots)
	for i := 0; i < n; i++ {
		idx := (d.cursor + i) % n
		if !d.slots[idx].coolingUntil.After(now) {
			d.cursor = (idx + 1) % n
			return idx, nil
		}
	}
	earliestIdx := 0
	earliest := d.slots[0].coolingUntil
	for i := 1; i < n; i++ {
		if d.slots[i].coolingUntil.Before(earliest) {
			earliest = d.slots[i].coolingUntil
			earliestIdx = i
		}
	}
	wait := earliest.Sub(now)
	slog.Warn("all credential slots cooling, waiting for earliest cooldown",
		slog.Int("slot", earliestIdx), slog.Duration("wait", wait))
	if err := d.sleep(ctx, wait); err != nil {
		// The caller's deadline expired with every slot cooling; that is an
		// exhaustion outcome, not a plain timeout.
		return 0, fmt.Errorf("op=dispatcher.selectSlot: %w: %w", domain.ErrProviderExhausted, err)
	}
	d.slots[earliestIdx].coolingUntil = time.Time{}
	d.cursor = (earliestIdx + 1) % n
	return earliestIdx, nil
}

// dispatch runs one logical provider operation under the pool protocol:
// throttle, select a slot, invoke, classify. A rate-limit outcome rests the
// slot and consumes one unit of the retry budget; any other error is final.
func (d *Dispatcher) dispatch(ctx domain.Context, op string, call func(domain.Context, string) error) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	budget := d.cfg.MaxRateLimitRetries()
	for attempt := 0; attempt < budget; attempt++ {
		if err := d.waitThrottle(ctx); err != nil {
			if attempt > 0 {
				// The deadline died while waiting to retry a rate-limited
				// pool; the caller sees that as exhaustion.
				return fmt.Errorf("%w: %w", domain.ErrProviderExhausted, err)
			}
			return err
		}
		idx, err := d.selectSlot(ctx)
		if err != nil {
			return err
		}
		d.lastCall = d.now()
		err = call(ctx, d.slots[idx].credential)
		if err == nil {
			return nil
		}
		if errors.Is(err, domain.ErrUpstreamRateLimit) {
			d.slots[idx].coolingUntil = d.now().Add(d.cfg.AISlotCooldown)
			observability.DispatcherSlotCooldownsTotal.WithLabelValues(strconv.Itoa(idx)).Inc()
			slog.Warn("credential slot rate limited, rotating",
				slog.Int("slot", idx),
				slog.Int("attempt", attempt+1),
				slog.Int("budget", budget),
				slog.Duration("cooldown", d.cfg.AISlotCooldown))
			continue
		}
		return err
	}
	observability.DispatcherExhaustedTotal.Inc()
	slog.Error("credential pool exhausted", slog.String("op", op), slog.Int("budget", budget))
	return fmt.Errorf("%w: op=%s after %d rate-limited attempts", domain.ErrProviderExhausted, op, budget)
}

// GenerateText submits a prompt and returns the raw completion text.
func (d *Dispatcher) GenerateText(ctx domain.Context, prompt string) (string, error) {
	observability.AIPromptTokens.WithLabelValues("generate").Observe(float64(tokencount.CountTokensDefault(prompt)))
	var out string
	err := d.dispatch(ctx, "generate", func(ctx domain.Context, cred string) error {
		s, err := d.provider.Generate(ctx, cred, d.cfg.GenerateModel, prompt, d.cfg.MaxOutputTokens, d.cfg.GenerationTemperature)
		if err != nil {
			return err
		}
		out = s
		return nil
	})
	if err != nil {
		return "", err
	}
	return out, nil
}

// GenerateJSON submits a prompt, repairs the completion into JSON, and
// decodes it into out. Responses that cannot be repaired or do not match the
// target shape fail with a schema error.
func (d *Dispatcher) GenerateJSON(ctx domain.Context, prompt string, out any) error {
	raw, err := d.GenerateText(ctx, prompt)
	if err != nil {
		return err
	}
	cleaned, err := d.cleaner.CleanAndValidateJSON(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrSchemaInvalid, err)
	}
	dec := json.NewDecoder(strings.NewReader(cleaned))
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("%w: decode structured response: %v", domain.ErrSchemaInvalid, err)
	}
	return nil
}

// Embed submits text for embedding and enforces the configured vector
// dimension. A wrong-sized vector is rejected, never padded or truncated.
func (d *Dispatcher) Embed(ctx domain.Context, text string) ([]float32, error) {
	observability.AIPromptTokens.WithLabelValues("embed").Observe(float64(tokencount.CountTokensDefault(text)))
	var vec []float32
	err := d.dispatch(ctx, "embed", func(ctx domain.Context, cred string) error {
		v, err := d.provider.Embed(ctx, cred, d.cfg.EmbeddingModel, text)
		if err != nil {
			return err
		}
		vec = v
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(vec) != d.cfg.EmbeddingDim {
		return nil, fmt.Errorf("%w: embedding dimension %d, want %d", domain.ErrSchemaInvalid, len(vec), d.cfg.EmbeddingDim)
	}
	return vec, nil
}
