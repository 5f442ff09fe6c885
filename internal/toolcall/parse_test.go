package toolcall

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	for name, tc := range map[string]struct {
		text   string
		want   Call
		nocall bool
	}{
		"well formed": {
			text: `⚡️lookup_weather({"city": "Rome"})`,
			want: Call{Name: "lookup_weather", Args: map[string]any{"city": "Rome"}},
		},
		"space before paren": {
			text: `⚡️lookup-weather ({"city": "Rome"})`,
			want: Call{Name: "lookup-weather", Args: map[string]any{"city": "Rome"}},
		},
		"multiline args": {
			text: "⚡️search({\n  \"q\": \"go\",\n  \"limit\": 3\n})",
			want: Call{Name: "search", Args: map[string]any{"q": "go", "limit": float64(3)}},
		},
		"nested object": {
			text: `⚡️query({"filter": {"year": 2024}})`,
			want: Call{Name: "query", Args: map[string]any{"filter": map[string]any{"year": float64(2024)}}},
		},
		"invalid json": {
			text: `⚡️lookup_weather({city: Rome})`,
			want: Call{Name: "lookup_weather", Args: map[string]any{}},
		},
		"truncated json": {
			text: `⚡️lookup_weather({"city": "Ro`,
			want: Call{Name: "lookup_weather", Args: map[string]any{}},
		},
		"first call wins": {
			text: `⚡️a({"n": 1}) then ⚡️b({"n": 2})`,
			want: Call{Name: "a", Args: map[string]any{"n": float64(1)}},
		},
		"no marker": {
			text:   `lookup_weather({"city": "Rome"})`,
			nocall: true,
		},
		"marker only": {
			text:   `⚡️ and nothing else`,
			nocall: true,
		},
		"name with dots": {
			text:   `⚡️fs.read({})`,
			nocall: true,
		},
	} {
		t.Run(name, func(t *testing.T) {
			call, ok := NewParser("⚡️").Parse(tc.text)
			if tc.nocall {
				require.False(t, ok)
				return
			}
			require.True(t, ok)
			require.Equal(t, tc.want.Name, call.Name)
			require.Equal(t, tc.want.Args, call.Args)
		})
	}
}

func TestParseCustomMarker(t *testing.T) {
	p := NewParser("[[call]]")
	call, ok := p.Parse(`sure [[call]]ping({"host": "a.b"})`)
	require.True(t, ok)
	require.Equal(t, "ping", call.Name)
	require.Equal(t, `[[call]]ping({"host": "a.b"})`, call.Raw)
}

func TestStrip(t *testing.T) {
	p := NewParser("⚡️")
	require.Equal(t,
		"Let me check.  Done.",
		p.Strip(`Let me check. ⚡️lookup_weather({"city":"Rome"}) Done.`),
	)
	require.Equal(t, "stray ", p.Strip("stray ⚡️"))
}
