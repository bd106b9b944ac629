package ai

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

type sample struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestParse(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  sample
		ok    bool
	}{
		{name: "plain", input: `{"name": "a", "count": 2}`, want: sample{"a", 2}, ok: true},
		{name: "code fence", input: "```json\n{\"name\": \"a\", \"count\": 2}\n```", want: sample{"a", 2}, ok: true},
		{name: "bare fence", input: "```{\"name\": \"a\"}```", want: sample{Name: "a"}, ok: true},
		{name: "trailing comma", input: `{"name": "a", "count": 2,}`, want: sample{"a", 2}, ok: true},
		{name: "unquoted keys", input: `{name: "a", count: 2}`, want: sample{"a", 2}, ok: true},
		{name: "comment line", input: "{\n// the name\n\"name\": \"a\"\n}", want: sample{Name: "a"}, ok: true},
		{name: "mixed prose", input: `Sure! {"name": "a", "count": 1} Hope that helps.`, want: sample{"a", 1}, ok: true},
		{name: "url in value survives", input: `{"name": "http://example.com/x", "count": 1}`, want: sample{"http://example.com/x", 1}, ok: true},
		{name: "apostrophe", input: `{"name": "Ada's cells"}`, want: sample{Name: "Ada's cells"}, ok: true},
		{name: "empty", input: "   ", ok: false},
		{name: "no JSON", input: "no structured output here", ok: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Parse[sample](tt.input, "test")
			assert.Equal(t, tt.ok, got.Success, got.Error)
			if tt.ok {
				assert.Equal(t, tt.want, got.Data)
			} else {
				assert.True(t, strings.HasPrefix(got.Error, "test: "))
			}
		})
	}
}

func TestParse_Array(t *testing.T) {
	got := Parse[[]sample](`Result: [{"name": "a"}, {"name": "b"}]`, "")
	assert.True(t, got.Success, got.Error)
	assert.Len(t, got.Data, 2)
}

func TestParse_SizeLimit(t *testing.T) {
	got := Parse[sample](strings.Repeat("x", maxParseInput+1), "")
	assert.False(t, got.Success)
	assert.Contains(t, got.Error, "exceeds size limit")
}

func TestExtractJSON(t *testing.T) {
	assert.Equal(t, `[{"a":1},{"a":2}]`, extractJSON(`[{"a":1},{"a":2}]`))
	assert.Equal(t, `{"a":1}`, extractJSON(`prefix {"a":1} suffix`))
	assert.Equal(t, "", extractJSON("nothing"))
}
