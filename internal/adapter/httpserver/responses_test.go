package httpserver

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/fairyhunter13/ai-job-matcher/internal/domain"
)

func TestWriteErrorStatusMapping(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"invalid argument", fmt.Errorf("%w: bad", domain.ErrInvalidArgument), http.StatusBadRequest, "INVALID_ARGUMENT"},
		{"not found", fmt.Errorf("%w", domain.ErrNotFound), http.StatusNotFound, "NOT_FOUND"},
		{"exhausted pool", fmt.Errorf("%w: op=dispatch", domain.ErrProviderExhausted), http.StatusTooManyRequests, "RATE_LIMITED"},
		{"upstream timeout", fmt.Errorf("%w", domain.ErrUpstreamTimeout), http.StatusInternalServerError, "UPSTREAM_TIMEOUT"},
		{"upstream rate limit", fmt.Errorf("%w", domain.ErrUpstreamRateLimit), http.StatusInternalServerError, "UPSTREAM_RATE_LIMIT"},
		{"schema invalid", fmt.Errorf("%w: no braces", domain.ErrSchemaInvalid), http.StatusInternalServerError, "SCHEMA_INVALID"},
		{"unknown", fmt.Errorf("disk on fire"), http.StatusInternalServerError, "INTERNAL"},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			rec := httptest.NewRecorder()
			writeError(rec, httptest.NewRequest(http.MethodGet, "/", nil), tc.err, nil)
			assert.Equal(t, tc.status, rec.Code)
			env := decodeEnvelope(t, rec.Body)
			assert.Equal(t, tc.code, env.Error.Code)
		})
	}
}

func TestWriteErrorExhaustedUsesFixedMessage(t *testing.T) {
	t.Parallel()
	rec := httptest.NewRecorder()
	writeError(rec, httptest.NewRequest(http.MethodGet, "/", nil),
		fmt.Errorf("%w: op=dispatch.embed after 4 rate-limited attempts", domain.ErrProviderExhausted), nil)
	env := decodeEnvelope(t, rec.Body)
	assert.Equal(t, providerBusyMessage, env.Error.Message)
}
