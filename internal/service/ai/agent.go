// Package ai exposes the language model behind a provider-agnostic Agent
// and translates provider streams into the three-event chat vocabulary.
package ai

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"

	chatmodel "github.com/qiwenz/parley/backend/internal/model/chat"
	"github.com/qiwenz/parley/backend/internal/logging"
)

const preamble = "You are a research assistant that helps users gather and summarize information from the web"

// defaultMaxToolSteps bounds the tool loop so a model that keeps asking
// for tools cannot spin forever.
const defaultMaxToolSteps = 8

// Agent wraps one chat model plus its bound tools. Which provider backs
// the model is decided at construction; callers only see StreamChat.
type Agent struct {
	model    model.ToolCallingChatModel
	tools    map[string]tool.InvokableTool
	maxSteps int
}

// NewAgent binds the given tools to the chat model and returns the agent.
func NewAgent(ctx context.Context, chatModel model.ToolCallingChatModel, tools []tool.InvokableTool) (*Agent, error) {
	infos := make([]*schema.ToolInfo, 0, len(tools))
	index := make(map[string]tool.InvokableTool, len(tools))
	for _, t := range tools {
		info, err := t.Info(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to describe tool: %w", err)
		}
		infos = append(infos, info)
		index[info.Name] = t
	}

	if len(infos) > 0 {
		var err error
		chatModel, err = chatModel.WithTools(infos)
		if err != nil {
			return nil, fmt.Errorf("failed to bind tools: %w", err)
		}
	}

	return &Agent{model: chatModel, tools: index, maxSteps: defaultMaxToolSteps}, nil
}

// StreamChat runs one completion for prompt against a history snapshot and
// returns the translated event stream. Tool calls requested by the model
// are executed between completion rounds; their chatter is filtered out by
// the translator and never reaches the caller.
//
// The history snapshot is owned by the caller and never mutated here;
// later changes to the live session do not affect an in-flight stream.
func (a *Agent) StreamChat(ctx context.Context, prompt string, history []chatmodel.Message) *EventStream {
	reader, writer := schema.Pipe[*schema.Message](8)
	go a.run(ctx, writer, prompt, history)
	return Translate(reader)
}

func (a *Agent) run(ctx context.Context, writer *schema.StreamWriter[*schema.Message], prompt string, history []chatmodel.Message) {
	defer writer.Close()

	messages := make([]*schema.Message, 0, len(history)+2)
	messages = append(messages, schema.SystemMessage(preamble))
	messages = append(messages, chatmodel.ToSchemaMessages(trimTrailingPrompt(history, prompt))...)
	messages = append(messages, schema.UserMessage(prompt))

	for step := 0; step < a.maxSteps; step++ {
		stream, err := a.model.Stream(ctx, messages)
		if err != nil {
			writer.Send(nil, err)
			return
		}

		chunks := make([]*schema.Message, 0, 8)
		for {
			chunk, recvErr := stream.Recv()
			if errors.Is(recvErr, io.EOF) {
				break
			}
			if recvErr != nil {
				stream.Close()
				writer.Send(nil, recvErr)
				return
			}
			if chunk == nil {
				continue
			}
			chunks = append(chunks, chunk)
			if closed := writer.Send(chunk, nil); closed {
				// Consumer abandoned the stream; stop draining the model.
				stream.Close()
				return
			}
		}
		stream.Close()

		if len(chunks) == 0 {
			return
		}

		full, err := schema.ConcatMessages(chunks)
		if err != nil {
			writer.Send(nil, err)
			return
		}
		if len(full.ToolCalls) == 0 {
			return
		}

		messages = append(messages, full)
		for _, call := range full.ToolCalls {
			messages = append(messages, a.invokeTool(ctx, call))
		}
	}

	writer.Send(nil, fmt.Errorf("tool loop did not settle within %d steps", a.maxSteps))
}

// invokeTool executes one requested tool call. Failures are fed back to
// the model as the tool result instead of aborting the stream, so the
// model can recover or explain.
func (a *Agent) invokeTool(ctx context.Context, call schema.ToolCall) *schema.Message {
	t, ok := a.tools[call.Function.Name]
	if !ok {
		return schema.ToolMessage(fmt.Sprintf("unknown tool %q", call.Function.Name), call.ID)
	}

	output, err := t.InvokableRun(ctx, call.Function.Arguments)
	if err != nil {
		logging.Warn().Str("tool", call.Function.Name).Err(err).Msg("tool call failed")
		output = fmt.Sprintf("tool %s failed: %v", call.Function.Name, err)
	}
	return schema.ToolMessage(output, call.ID)
}

// trimTrailingPrompt drops the last history turn when it is the user turn
// being prompted, which happens because the handler persists the user
// message before the stream starts. Without this the model would see the
// question twice.
func trimTrailingPrompt(history []chatmodel.Message, prompt string) []chatmodel.Message {
	if n := len(history); n > 0 {
		last := history[n-1]
		if last.Role == chatmodel.RoleUser && last.Content == prompt {
			return history[:n-1]
		}
	}
	return history
}
