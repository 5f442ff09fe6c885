package agent

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"slices"
	"testing"

	"charm.land/fantasy"
	"github.com/stretchr/testify/require"

	"github.com/dotcommander/gizmo/internal/config"
	"github.com/dotcommander/gizmo/internal/errs"
	"github.com/dotcommander/gizmo/internal/mcp"
	"github.com/dotcommander/gizmo/internal/proto"
	"github.com/dotcommander/gizmo/internal/retrieval"
	"github.com/dotcommander/gizmo/internal/toolcall"
)

var weatherTool = mcp.Tool{
	Name:        "lookup_weather",
	Description: "Current temperature for a city",
	InputSchema: map[string]any{
		"type":       "object",
		"properties": map[string]any{"city": map[string]any{"type": "string"}},
		"required":   []string{"city"},
	},
	Server: "weather",
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Temperature = -1
	cfg.TopP = -1
	cfg.TopK = -1
	return &cfg
}

func newTestService(cfg *config.Config, client *scriptedClient, opts ...Option) *Service {
	return New(cfg, client, config.Model{Name: "gizmo", API: "ollama"}, opts...)
}

func TestTurnWithToolCall(t *testing.T) {
	client := &scriptedClient{scripts: []script{
		{chunks: []string{"Let me ", "check. ⚡", "\ufe0flookup_weather({\"ci", `ty":"Rome"})`}},
		{chunks: []string{"It's 21°C ", "in Rome."}},
	}}
	tools := &fakeTools{
		tools: []mcp.Tool{weatherTool},
		call: func(name string, args map[string]any) (string, error) {
			require.Equal(t, "lookup_weather", name)
			require.Equal(t, map[string]any{"city": "Rome"}, args)
			return `{"tempC":21}`, nil
		},
	}
	var started, done []string
	svc := newTestService(testConfig(), client, WithTools(tools), WithHooks(Hooks{
		ToolStart: func(c toolcall.Call) { started = append(started, c.Name) },
		ToolDone:  func(c ToolCall) { done = append(done, c.Name) },
	}))

	sink := &screen{}
	res, err := svc.Turn(context.Background(), "What's the weather in Rome?", sink)
	require.NoError(t, err)

	require.Equal(t, "Let me check. It's 21°C in Rome.", sink.text)
	require.Equal(t, "Let me check. It's 21°C in Rome.", res.Text)
	require.Equal(t, 1, sink.retracts)
	require.Len(t, res.Calls, 1)
	require.Equal(t, `{"tempC":21}`, res.Calls[0].Result)
	require.NoError(t, res.Calls[0].Err)
	require.Equal(t, []string{"lookup_weather"}, started)
	require.Equal(t, []string{"lookup_weather"}, done)

	require.Len(t, client.requests, 2)
	sys := client.requests[0].Messages[0]
	require.Equal(t, proto.RoleSystem, sys.Role)
	require.Contains(t, sys.Content, "- lookup_weather: Current temperature for a city")
	require.Equal(t, "What's the weather in Rome?", client.lastUser(0))

	cont := client.lastUser(1)
	require.Contains(t, cont, "The user asked: What's the weather in Rome?")
	require.Contains(t, cont, "You started to answer: Let me check.\n")
	require.Contains(t, cont, `Tool result: {"tempC":21}`)

	require.Equal(t, proto.Conversation{
		{Role: proto.RoleUser, Content: "What's the weather in Rome?"},
		{Role: proto.RoleAssistant, Content: "Let me check. It's 21°C in Rome."},
	}, svc.History())
}

func TestTurnToolFailure(t *testing.T) {
	client := &scriptedClient{scripts: []script{
		{chunks: []string{`Let me check. ⚡️lookup_weather({"city":"Rome"})`}},
		{chunks: []string{"The weather service is unreachable right now, try a forecast site."}},
	}}
	tools := &fakeTools{
		tools: []mcp.Tool{weatherTool},
		call: func(string, map[string]any) (string, error) {
			return "", &mcp.ToolError{Server: "weather", Tool: "lookup_weather", Err: fmt.Errorf("%w: broken pipe", mcp.ErrConnection)}
		},
	}
	svc := newTestService(testConfig(), client, WithTools(tools))

	sink := &screen{}
	res, err := svc.Turn(context.Background(), "What's the weather in Rome?", sink)
	require.NoError(t, err)
	require.Equal(t, "Let me check. The weather service is unreachable right now, try a forecast site.", sink.text)
	require.Len(t, res.Calls, 1)
	require.ErrorIs(t, res.Calls[0].Err, mcp.ErrConnection)
	require.Contains(t, client.lastUser(1),
		"Tool result: The tool call failed with error: weather/lookup_weather: mcp connection error: broken pipe. Suggest alternatives.")
}

func TestTurnToolNotFound(t *testing.T) {
	for name, tc := range map[string]struct {
		first string
		tools Tools
		want  string
	}{
		"unknown name": {
			first: `⚡️lookup_stocks({"ticker":"ACME"})`,
			tools: &fakeTools{call: func(name string, _ map[string]any) (string, error) {
				return "", fmt.Errorf("%w: %q", mcp.ErrToolNotFound, name)
			}},
			want: `The tool call failed with error: tool not found: "lookup_stocks". Suggest alternatives.`,
		},
		"marker without call": {
			first: "Sure ⚡️ whatever",
			tools: &fakeTools{},
			want:  "The tool call failed with error: tool not found: the marker was not followed by a call. Suggest alternatives.",
		},
		"no registry": {
			first: `⚡️lookup_weather({})`,
			want:  `The tool call failed with error: tool not found: "lookup_weather", no tools are connected. Suggest alternatives.`,
		},
	} {
		t.Run(name, func(t *testing.T) {
			client := &scriptedClient{scripts: []script{
				{chunks: []string{tc.first}},
				{chunks: []string{"I can't do that."}},
			}}
			var opts []Option
			if tc.tools != nil {
				opts = append(opts, WithTools(tc.tools))
			}
			svc := newTestService(testConfig(), client, opts...)
			res, err := svc.Turn(context.Background(), "q", &screen{})
			require.NoError(t, err)
			require.Len(t, res.Calls, 1)
			require.ErrorIs(t, res.Calls[0].Err, mcp.ErrToolNotFound)
			require.Contains(t, client.lastUser(1), "Tool result: "+tc.want)
			require.Contains(t, res.Text, "I can't do that.")
		})
	}
}

func TestTurnClosesGenerationOnceCallIsComplete(t *testing.T) {
	client := &scriptedClient{scripts: []script{
		{chunks: []string{`⚡️lookup_weather({"city":"Rome"})`, " and then", " more text"}},
		{chunks: []string{"21°C."}},
	}}
	tools := &fakeTools{call: func(string, map[string]any) (string, error) { return "21", nil }}
	svc := newTestService(testConfig(), client, WithTools(tools))

	_, err := svc.Turn(context.Background(), "q", &screen{})
	require.NoError(t, err)
	require.True(t, client.streams[0].closed)
	require.Zero(t, client.streams[0].pos)
}

func TestTurnToolCallLimit(t *testing.T) {
	call := `⚡️again({})`
	client := &scriptedClient{scripts: []script{
		{chunks: []string{"one " + call}},
		{chunks: []string{"two " + call}},
		{chunks: []string{"three " + call}},
	}}
	tools := &fakeTools{call: func(string, map[string]any) (string, error) { return "ok", nil }}
	cfg := testConfig()
	cfg.MaxToolCalls = 2
	svc := newTestService(cfg, client, WithTools(tools))

	sink := &screen{}
	res, err := svc.Turn(context.Background(), "loop", sink)
	require.NoError(t, err)
	require.True(t, res.Truncated)
	require.Len(t, res.Calls, 2)
	require.Len(t, client.requests, 3)
	require.Equal(t, "one two three", sink.text)
}

func TestTurnOversizedCall(t *testing.T) {
	client := &scriptedClient{scripts: []script{
		{chunks: []string{"ok ⚡️search(", `{"q":"`, "xxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxx", "never read"}},
		{chunks: []string{"done"}},
	}}
	tools := &fakeTools{call: func(string, map[string]any) (string, error) { return "", errors.New("missing q") }}
	cfg := testConfig()
	cfg.MaxCallBytes = 24
	svc := newTestService(cfg, client, WithTools(tools))

	res, err := svc.Turn(context.Background(), "q", &screen{})
	require.NoError(t, err)
	require.Equal(t, 2, client.streams[0].pos)
	require.Len(t, res.Calls, 1)
	require.Equal(t, "search", res.Calls[0].Name)
	require.Empty(t, res.Calls[0].Args)
	require.Equal(t, "ok done", res.Text)
}

func TestTurnWithRetrieval(t *testing.T) {
	client := &scriptedClient{scripts: []script{{chunks: []string{"Seven."}}}}
	retriever := &fakeRetriever{passages: []retrieval.Passage{
		{ID: "rules.txt:0", Source: "rules.txt", Text: "Each player starts with seven cards."},
		{ID: "rules.txt:3", Source: "rules.txt", Text: "The dealer shuffles."},
	}}
	cfg := testConfig()
	cfg.Retrieval = true
	svc := newTestService(cfg, client, WithRetriever(retriever))

	res, err := svc.Turn(context.Background(), "How many cards?", &screen{})
	require.NoError(t, err)
	require.Equal(t, []string{"rules.txt:0", "rules.txt:3"}, res.Sources)
	require.Equal(t, []string{"How many cards?"}, retriever.queries)
	require.Equal(t, "Answer the question based only on the following context:\n\n"+
		"Each player starts with seven cards.\n\n---\n\nThe dealer shuffles.\n\n---\n\n"+
		"Answer the question based on the above context: How many cards?", client.lastUser(0))
	require.Equal(t, "How many cards?", svc.History()[0].Content)
}

func TestTurnRetrievalFailureFallsBack(t *testing.T) {
	client := &scriptedClient{scripts: []script{{chunks: []string{"Hi."}}}}
	cfg := testConfig()
	cfg.Retrieval = true
	svc := newTestService(cfg, client, WithRetriever(&fakeRetriever{err: errors.New("db locked")}))

	res, err := svc.Turn(context.Background(), "hello", &screen{})
	require.NoError(t, err)
	require.Empty(t, res.Sources)
	require.Equal(t, "hello", client.lastUser(0))
}

func TestTurnGenerationErrors(t *testing.T) {
	t.Run("retryable before output", func(t *testing.T) {
		client := &scriptedClient{scripts: []script{
			{err: &fantasy.ProviderError{StatusCode: 429, Message: "slow down"}},
			{chunks: []string{"Hello."}},
		}}
		cfg := testConfig()
		cfg.MaxRetries = 1
		res, err := newTestService(cfg, client).Turn(context.Background(), "hi", &screen{})
		require.NoError(t, err)
		require.Equal(t, "Hello.", res.Text)
		require.Len(t, client.requests, 2)
	})

	t.Run("not retried after output", func(t *testing.T) {
		client := &scriptedClient{scripts: []script{
			{chunks: []string{"Hel"}, err: &fantasy.ProviderError{StatusCode: 429, Message: "slow down"}},
		}}
		cfg := testConfig()
		cfg.MaxRetries = 3
		res, err := newTestService(cfg, client).Turn(context.Background(), "hi", &screen{})
		require.Error(t, err)
		require.Equal(t, "Hel", res.Text)
		require.Len(t, client.requests, 1)
	})

	t.Run("plain error", func(t *testing.T) {
		client := &scriptedClient{scripts: []script{{err: errors.New("connection refused")}}}
		_, err := newTestService(testConfig(), client).Turn(context.Background(), "hi", &screen{})
		var e errs.Error
		require.ErrorAs(t, err, &e)
		require.Equal(t, "There was a problem with the ollama API request.", e.Reason)
	})

	t.Run("cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		client := &scriptedClient{scripts: []script{{err: context.Canceled}}}
		_, err := newTestService(testConfig(), client).Turn(ctx, "hi", &screen{})
		require.ErrorIs(t, err, context.Canceled)
	})
}

func TestHistoryAndIntro(t *testing.T) {
	client := &scriptedClient{scripts: []script{
		{chunks: []string{"I'm Gizmo."}},
		{chunks: []string{"First answer."}},
		{chunks: []string{"Second answer."}},
	}}
	cfg := testConfig()
	cfg.System = "You are Gizmo."
	svc := newTestService(cfg, client)

	_, err := svc.Intro(context.Background(), &screen{})
	require.NoError(t, err)
	require.Empty(t, svc.History())
	require.Equal(t, cfg.IntroPrompt, client.lastUser(0))

	_, err = svc.Turn(context.Background(), "first", &screen{})
	require.NoError(t, err)
	_, err = svc.Turn(context.Background(), "second", &screen{})
	require.NoError(t, err)

	require.Equal(t, []proto.Message{
		{Role: proto.RoleSystem, Content: "You are Gizmo."},
		{Role: proto.RoleUser, Content: "first"},
		{Role: proto.RoleAssistant, Content: "First answer."},
		{Role: proto.RoleUser, Content: "second"},
	}, client.requests[2].Messages)

	svc.Reset()
	require.Empty(t, svc.History())

	svc.Restore(proto.Conversation{
		{Role: proto.RoleSystem, Content: "old system prompt"},
		{Role: proto.RoleUser, Content: "first"},
		{Role: proto.RoleAssistant, Content: "First answer."},
	})
	require.Equal(t, proto.Conversation{
		{Role: proto.RoleUser, Content: "first"},
		{Role: proto.RoleAssistant, Content: "First answer."},
	}, svc.History())
}

func TestRequestSampling(t *testing.T) {
	cfg := testConfig()
	cfg.Temperature = 0.2
	cfg.MaxTokens = 100
	cfg.User = "someone"
	req := newTestService(cfg, &scriptedClient{}).request(nil)
	require.Equal(t, 0.2, *req.Temperature)
	require.Nil(t, req.TopP)
	require.Nil(t, req.TopK)
	require.EqualValues(t, 100, *req.MaxTokens)
	require.Equal(t, "someone", req.User)
	require.Equal(t, "gizmo", req.Model)
	require.Equal(t, "ollama", req.API)
}

func TestTurnOnOutputSinks(t *testing.T) {
	weather := func(city string) string { return `⚡️lookup_weather({"city":"` + city + `"})` }
	scenarios := map[string]struct {
		scripts []script
		want    string
	}{
		"calls on one line": {
			scripts: []script{
				{chunks: []string{"Let me ", "check. ", weather("Rome")}},
				{chunks: []string{"Rome is 21°C. ", "Now Paris. ", weather("Paris")}},
				{chunks: []string{"Paris is ", "18°C."}},
			},
			want: "Let me check. Rome is 21°C. Now Paris. Paris is 18°C.",
		},
		"retraction crosses a newline": {
			scripts: []script{
				{chunks: []string{"Let me check. ", weather("Rome")}},
				{chunks: []string{"Rome is 21°C. ", "Now Paris.\n", weather("Paris")}},
				{chunks: []string{"Paris is 18°C."}},
			},
			want: "Let me check. Rome is 21°C. Now Paris. Paris is 18°C.",
		},
		"earlier lines stay": {
			scripts: []script{
				{chunks: []string{"Sure.\nLet me ", "check.\n\n", weather("Rome")}},
				{chunks: []string{"It is 21°C."}},
			},
			want: "Sure.\nLet me check. It is 21°C.",
		},
		"continuation opens with a call": {
			scripts: []script{
				{chunks: []string{"Checking. ", weather("Rome")}},
				{chunks: []string{weather("Paris")}},
				{chunks: []string{"Done."}},
			},
			want: "Checking. Done.",
		},
		"continuation shows only blanks before a call": {
			scripts: []script{
				{chunks: []string{"Checking. ", weather("Rome")}},
				{chunks: []string{"  ", weather("Paris")}},
				{chunks: []string{"Done."}},
			},
			want: "Checking. Done.",
		},
	}

	type output struct {
		sink   toolcall.Sink
		screen func(t *testing.T) string
	}
	sinks := map[string]func() output{
		"plain": func() output {
			var buf bytes.Buffer
			s := toolcall.NewPlainSink(&buf)
			return output{sink: s, screen: func(t *testing.T) string {
				t.Helper()
				require.NoError(t, s.Flush())
				return buf.String()
			}}
		},
		"terminal": func() output {
			term := &terminal{}
			return output{sink: toolcall.NewTerminalSink(term), screen: func(*testing.T) string { return term.String() }}
		},
	}

	for sinkName, newOutput := range sinks {
		for name, sc := range scenarios {
			t.Run(sinkName+"/"+name, func(t *testing.T) {
				client := &scriptedClient{scripts: slices.Clone(sc.scripts)}
				tools := &fakeTools{
					tools: []mcp.Tool{weatherTool},
					call:  func(string, map[string]any) (string, error) { return "ok", nil },
				}
				svc := newTestService(testConfig(), client, WithTools(tools))

				out := newOutput()
				res, err := svc.Turn(context.Background(), "weather?", out.sink)
				require.NoError(t, err)
				require.Equal(t, sc.want, res.Text)
				require.Equal(t, sc.want, out.screen(t))
			})
		}
	}
}
