package toolcall

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const weatherTurn = `Let me check. ⚡️lookup_weather({"city":"Rome"})`

func feedAll(t *testing.T, st *State, chunks ...string) {
	t.Helper()
	for _, c := range chunks {
		require.NoError(t, st.Feed(c))
	}
}

func TestStateLive(t *testing.T) {
	for name, chunks := range map[string][]string{
		"words":        {"It's ", "21°C ", "in ", "Rome."},
		"single chunk": {"Nothing to call here."},
		"empty chunks": {"", "a", "", "b"},
		"half marker":  {"Zap ⚡ is not the marker."},
		"lone variant": {"\ufe0f on its own"},
	} {
		t.Run(name, func(t *testing.T) {
			sink := &screen{}
			st := NewState(NewParser("⚡️"), sink, 0)
			feedAll(t, st, chunks...)

			require.Equal(t, Live, st.Mode())
			require.Equal(t, chunks, sink.forwards)
			require.Equal(t, strings.Join(chunks, ""), st.Visible())
			require.Zero(t, sink.retracts)
			_, ok := st.Call()
			require.False(t, ok)
		})
	}
}

func TestStateMarkerAtEverySplit(t *testing.T) {
	// Every way to cut the text into three chunks, including cuts inside
	// the marker's bytes.
	for i := 0; i <= len(weatherTurn); i++ {
		for j := i; j <= len(weatherTurn); j++ {
			chunks := []string{weatherTurn[:i], weatherTurn[i:j], weatherTurn[j:]}
			sink := &screen{}
			st := NewState(NewParser("⚡️"), sink, 0)
			feedAll(t, st, chunks...)

			require.Equal(t, Suspended, st.Mode(), "chunks %q", chunks)
			require.Equal(t, 1, sink.retracts, "chunks %q", chunks)
			require.Equal(t, "Let me check.", sink.text, "chunks %q", chunks)
			require.Equal(t, "Let me check.", st.Visible())

			call, ok := st.Call()
			require.True(t, ok)
			require.Equal(t, "lookup_weather", call.Name)
			require.Equal(t, map[string]any{"city": "Rome"}, call.Args)
		}
	}
}

func TestStateSuspendedHoldsBack(t *testing.T) {
	sink := &screen{}
	st := NewState(NewParser("⚡️"), sink, 0)
	feedAll(t, st, "Checking ", "⚡️lookup", "_weather(", `{"city":`)
	require.False(t, st.Ready())
	feedAll(t, st, `"Rome"})`, " and some trailing words")
	require.True(t, st.Ready())
	require.Equal(t, []string{"Checking "}, sink.forwards)
	require.Equal(t, "Checking", sink.text)
}

func TestStateReset(t *testing.T) {
	sink := &screen{}
	st := NewState(NewParser("⚡️"), sink, 0)
	feedAll(t, st, weatherTurn)
	require.Equal(t, Suspended, st.Mode())

	st.Reset()
	require.Equal(t, Live, st.Mode())
	require.Empty(t, st.Text())
	require.False(t, st.Ready())

	sink.text = ""
	feedAll(t, st, "It's 21°C in Rome.")
	require.Equal(t, "It's 21°C in Rome.", sink.text)
}

func TestStateCallTooLarge(t *testing.T) {
	st := NewState(NewParser("⚡️"), &screen{}, 16)
	feedAll(t, st, "ok ⚡️search(")
	err := st.Feed(`{"q":"` + strings.Repeat("x", 32))
	require.ErrorIs(t, err, ErrCallTooLarge)

	call, ok := st.Call()
	require.True(t, ok)
	require.Equal(t, "search", call.Name)
	require.Empty(t, call.Args)
}

func TestStateMarkerWithoutCall(t *testing.T) {
	sink := &screen{}
	st := NewState(NewParser("⚡️"), sink, 0)
	feedAll(t, st, "I would use ⚡️ here but I won't.")
	require.Equal(t, Suspended, st.Mode())
	require.Equal(t, "I would use", sink.text)
	_, ok := st.Call()
	require.False(t, ok)
}

func TestModeString(t *testing.T) {
	require.Equal(t, "live", Live.String())
	require.Equal(t, "suspended", Suspended.String())
}
