package storage

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dotcommander/gizmo/internal/proto"
)

func testLog(tb testing.TB) *Log {
	l, err := Open(":memory:")
	require.NoError(tb, err)
	tb.Cleanup(func() { require.NoError(tb, l.Close()) })
	return l
}

func TestLogRecord(t *testing.T) {
	l := testLog(t)
	id := NewSessionID()

	require.NoError(t, l.Record(id, "ollama", "gizmo", Turn{
		Prompt: "What's the weather in Rome?",
		Answer: "Let me check. It is 21°C in Rome.",
		Calls:  []ToolCall{{Name: "lookup_weather", Args: map[string]any{"city": "Rome"}, Result: `{"tempC":21}`}},
	}))
	require.NoError(t, l.Record(id, "ollama", "gizmo", Turn{Prompt: "thanks", Answer: "Anytime!"}))

	s, err := l.Index().Find(id[:MinIDLen])
	require.NoError(t, err)
	require.Equal(t, "What's the weather in Rome?", s.Title)
	require.Equal(t, 2, s.Turns)
	require.Equal(t, "gizmo", s.Model)
	require.False(t, s.UpdatedAt.Before(s.StartedAt))

	turns, err := l.Turns(id)
	require.NoError(t, err)
	require.Len(t, turns, 2)
	require.Equal(t, "Rome", turns[0].Calls[0].Args["city"])

	convo, err := l.Conversation(id)
	require.NoError(t, err)
	require.Equal(t, proto.Conversation{
		{Role: proto.RoleUser, Content: "What's the weather in Rome?"},
		{Role: proto.RoleAssistant, Content: "Let me check. It is 21°C in Rome."},
		{Role: proto.RoleUser, Content: "thanks"},
		{Role: proto.RoleAssistant, Content: "Anytime!"},
	}, convo)
}

func TestLogDeleteAndPrune(t *testing.T) {
	l := testLog(t)
	old, recent := NewSessionID(), NewSessionID()

	require.NoError(t, l.Record(old, "", "", Turn{At: time.Now().Add(-48 * time.Hour), Prompt: "old"}))
	require.NoError(t, l.Record(recent, "", "", Turn{Prompt: "recent"}))

	pruned, err := l.Prune(24 * time.Hour)
	require.NoError(t, err)
	require.Len(t, pruned, 1)
	require.Equal(t, old, pruned[0].ID)

	_, err = l.Turns(old)
	require.ErrorIs(t, err, ErrNoMatches)
	require.Len(t, l.Index().List(), 1)

	require.NoError(t, l.Delete(recent))
	require.Empty(t, l.Index().List())
}

func TestLogReopen(t *testing.T) {
	dir := t.TempDir()
	id := NewSessionID()

	l, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, l.Record(id, "openai", "gpt-4o", Turn{Prompt: "hello", Answer: "hi"}))
	require.NoError(t, l.Close())

	l, err = Open(dir)
	require.NoError(t, err)
	s, err := l.Index().Latest()
	require.NoError(t, err)
	require.Equal(t, id, s.ID)
	require.Equal(t, 1, s.Turns)
}

func TestIndex(t *testing.T) {
	const testid = "df31ae23ab8b75b5643c2f846c570997edc71333"

	t.Run("empty", func(t *testing.T) {
		l := testLog(t)
		require.Empty(t, l.Index().List())
		_, err := l.Index().Latest()
		require.ErrorIs(t, err, ErrNoMatches)
	})

	t.Run("put requires id and title", func(t *testing.T) {
		idx := testLog(t).Index()
		require.Error(t, idx.Put(Session{Title: "x"}))
		require.Error(t, idx.Put(Session{ID: testid}))
	})

	t.Run("find", func(t *testing.T) {
		idx := testLog(t).Index()
		require.NoError(t, idx.Put(Session{ID: testid, Title: "weather"}))
		require.NoError(t, idx.Put(Session{ID: "df32" + testid[4:], Title: "df31"}))

		s, err := idx.Find("df31a")
		require.NoError(t, err)
		require.Equal(t, testid, s.ID)

		s, err = idx.Find("weather")
		require.NoError(t, err)
		require.Equal(t, testid, s.ID)

		_, err = idx.Find("df3")
		require.ErrorIs(t, err, ErrNoMatches)

		// "df31" is both an id prefix and a title.
		_, err = idx.Find("df31")
		require.ErrorIs(t, err, ErrManyMatches)
	})

	t.Run("completions", func(t *testing.T) {
		idx := testLog(t).Index()
		require.NoError(t, idx.Put(Session{ID: testid, Title: "dfa title"}))
		require.Equal(t, []string{"df31ae2\tdfa title", "dfa title\tdf31ae2"}, idx.Completions("df"))
	})

	t.Run("compaction keeps live sessions", func(t *testing.T) {
		dir := t.TempDir()
		l, err := Open(dir)
		require.NoError(t, err)
		for i := range compactMinOps + 10 {
			require.NoError(t, l.Index().Put(Session{ID: testid, Title: fmt.Sprintf("title %d", i)}))
		}
		require.Less(t, l.Index().ops, compactMinOps)

		l, err = Open(dir)
		require.NoError(t, err)
		s, err := l.Index().Find(testid)
		require.NoError(t, err)
		require.Equal(t, fmt.Sprintf("title %d", compactMinOps+9), s.Title)
	})
}

func TestTitle(t *testing.T) {
	require.Equal(t, "(empty prompt)", title("  "))
	require.Equal(t, "a b", title(" a\n b "))
	long := title(strings.Repeat("é", 100))
	require.Len(t, []rune(long), maxTitleLen)
	require.True(t, strings.HasSuffix(long, "…"))
}
