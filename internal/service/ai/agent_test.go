package ai

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"

	chatmodel "github.com/qiwenz/parley/backend/internal/model/chat"
)

// fakeChatModel plays back scripted completion rounds and records the
// message lists it was called with.
type fakeChatModel struct {
	rounds []fakeRound
	calls  [][]*schema.Message
	tools  []*schema.ToolInfo
}

type fakeRound struct {
	chunks []*schema.Message
	err    error
}

func (m *fakeChatModel) Generate(context.Context, []*schema.Message, ...model.Option) (*schema.Message, error) {
	return nil, errors.New("generate not scripted")
}

func (m *fakeChatModel) Stream(_ context.Context, in []*schema.Message, _ ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	m.calls = append(m.calls, in)
	if len(m.rounds) == 0 {
		return nil, errors.New("no scripted rounds left")
	}
	round := m.rounds[0]
	m.rounds = m.rounds[1:]
	return feedStream(round.chunks, round.err), nil
}

func (m *fakeChatModel) WithTools(tools []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	m.tools = tools
	return m, nil
}

// echoTool returns a fixed payload for any invocation.
type echoTool struct {
	name   string
	output string
	calls  []string
}

func (t *echoTool) Info(context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{
		Name: t.name,
		Desc: "test tool",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"q": {Type: schema.String},
		}),
	}, nil
}

func (t *echoTool) InvokableRun(_ context.Context, args string, _ ...tool.Option) (string, error) {
	t.calls = append(t.calls, args)
	return t.output, nil
}

func TestAgentStreamChatPlainText(t *testing.T) {
	fake := &fakeChatModel{rounds: []fakeRound{
		{chunks: []*schema.Message{textChunk("Hi"), textChunk(" there")}},
	}}
	agent, err := NewAgent(context.Background(), fake, nil)
	if err != nil {
		t.Fatalf("NewAgent err: %v", err)
	}

	events := drain(t, agent.StreamChat(context.Background(), "hello", nil))

	want := []ChatStreamEvent{
		{Kind: KindTextDelta, Text: "Hi"},
		{Kind: KindTextDelta, Text: " there"},
		{Kind: KindDone},
	}
	if len(events) != len(want) {
		t.Fatalf("events = %+v, want %+v", events, want)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Fatalf("event %d = %+v, want %+v", i, events[i], want[i])
		}
	}

	// System preamble then the prompt.
	in := fake.calls[0]
	if in[0].Role != schema.System {
		t.Fatalf("first message role = %s, want system", in[0].Role)
	}
	if last := in[len(in)-1]; last.Role != schema.User || last.Content != "hello" {
		t.Fatalf("last message = %+v, want user prompt", last)
	}
}

func TestAgentRunsRequestedTool(t *testing.T) {
	lookup := &echoTool{name: "lookup", output: "42"}
	fake := &fakeChatModel{rounds: []fakeRound{
		{chunks: []*schema.Message{{
			Role: schema.Assistant,
			ToolCalls: []schema.ToolCall{{
				ID:       "call-1",
				Function: schema.FunctionCall{Name: "lookup", Arguments: `{"q":"answer"}`},
			}},
		}}},
		{chunks: []*schema.Message{textChunk("the answer is 42")}},
	}}

	agent, err := NewAgent(context.Background(), fake, []tool.InvokableTool{lookup})
	if err != nil {
		t.Fatalf("NewAgent err: %v", err)
	}
	if len(fake.tools) != 1 || fake.tools[0].Name != "lookup" {
		t.Fatalf("bound tools = %+v", fake.tools)
	}

	events := drain(t, agent.StreamChat(context.Background(), "what is the answer?", nil))

	if len(events) != 2 || events[0] != (ChatStreamEvent{Kind: KindTextDelta, Text: "the answer is 42"}) || events[1].Kind != KindDone {
		t.Fatalf("events = %+v", events)
	}

	if len(lookup.calls) != 1 || lookup.calls[0] != `{"q":"answer"}` {
		t.Fatalf("tool calls = %+v", lookup.calls)
	}

	// Second round must carry the tool result back to the model.
	if len(fake.calls) != 2 {
		t.Fatalf("model called %d times, want 2", len(fake.calls))
	}
	second := fake.calls[1]
	last := second[len(second)-1]
	if last.Role != schema.Tool || last.Content != "42" || last.ToolCallID != "call-1" {
		t.Fatalf("tool result message = %+v", last)
	}
}

func TestAgentToolFailureFedBackToModel(t *testing.T) {
	fake := &fakeChatModel{rounds: []fakeRound{
		{chunks: []*schema.Message{{
			Role: schema.Assistant,
			ToolCalls: []schema.ToolCall{{
				ID:       "call-9",
				Function: schema.FunctionCall{Name: "nope", Arguments: `{}`},
			}},
		}}},
		{chunks: []*schema.Message{textChunk("cannot do that")}},
	}}

	agent, err := NewAgent(context.Background(), fake, nil)
	if err != nil {
		t.Fatalf("NewAgent err: %v", err)
	}

	events := drain(t, agent.StreamChat(context.Background(), "use a tool", nil))
	if len(events) != 2 || events[1].Kind != KindDone {
		t.Fatalf("events = %+v", events)
	}

	second := fake.calls[1]
	last := second[len(second)-1]
	if last.Role != schema.Tool || !strings.Contains(last.Content, "unknown tool") {
		t.Fatalf("tool result message = %+v", last)
	}
}

func TestAgentStreamFailureBecomesError(t *testing.T) {
	fake := &fakeChatModel{rounds: []fakeRound{
		{err: errors.New("upstream busy")},
	}}
	agent, err := NewAgent(context.Background(), fake, nil)
	if err != nil {
		t.Fatalf("NewAgent err: %v", err)
	}

	events := drain(t, agent.StreamChat(context.Background(), "hello", nil))
	if len(events) != 1 || events[0].Kind != KindError || events[0].Message != "upstream busy" {
		t.Fatalf("events = %+v", events)
	}
}

func TestAgentDropsDuplicatedTrailingPrompt(t *testing.T) {
	fake := &fakeChatModel{rounds: []fakeRound{
		{chunks: []*schema.Message{textChunk("ok")}},
	}}
	agent, err := NewAgent(context.Background(), fake, nil)
	if err != nil {
		t.Fatalf("NewAgent err: %v", err)
	}

	history := []chatmodel.Message{
		chatmodel.UserMessage("earlier question"),
		chatmodel.AssistantMessage("earlier answer"),
		chatmodel.UserMessage("hello"),
	}
	drain(t, agent.StreamChat(context.Background(), "hello", history))

	in := fake.calls[0]
	users := 0
	for _, msg := range in {
		if msg.Role == schema.User && msg.Content == "hello" {
			users++
		}
	}
	if users != 1 {
		t.Fatalf("prompt appears %d times in model input", users)
	}
}
