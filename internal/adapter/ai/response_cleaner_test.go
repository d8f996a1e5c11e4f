package ai

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCleanJSONResponse(t *testing.T) {
	t.Parallel()
	rc := NewResponseCleaner()
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "plain json untouched",
			in:   `{"skills":["Go"]}`,
			want: `{"skills":["Go"]}`,
		},
		{
			name: "markdown fence stripped",
			in:   "```json\n{\"skills\":[\"Go\"]}\n```",
			want: `{"skills":["Go"]}`,
		},
		{
			name: "prose around object",
			in:   `Here is the result: {"seniority":"Senior"} hope that helps`,
			want: `{"seniority":"Senior"}`,
		},
		{
			name: "trailing comma repaired",
			in:   `{"skills":["Go","Kafka",],}`,
			want: `{"skills":["Go","Kafka"]}`,
		},
		{
			name: "nested braces balanced",
			in:   `{"gap":{"missing_skills":["Rust"]}} trailing`,
			want: `{"gap":{"missing_skills":["Rust"]}}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, rc.CleanJSONResponse(tt.in))
		})
	}
}

func TestCleanAndValidateJSON(t *testing.T) {
	t.Parallel()
	rc := NewResponseCleaner()

	out, err := rc.CleanAndValidateJSON("```json\n{\"summary\": \"ok\"}\n```")
	require.NoError(t, err)
	assert.True(t, rc.IsValidJSON(out))

	_, err = rc.CleanAndValidateJSON("no json here at all")
	require.Error(t, err)
	var vErr *JSONValidationError
	assert.ErrorAs(t, err, &vErr)
}
