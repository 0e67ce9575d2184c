package main

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCaller struct {
	mu   sync.Mutex
	name string
	args map[string]any
	res  ToolResult
	err  error
}

func (f *fakeCaller) CallTool(_ context.Context, name string, args map[string]any) (ToolResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.name, f.args = name, args
	return f.res, f.err
}

// typeAndSend types text into the model and presses enter.
func typeAndSend(t *testing.T, m chatModel, text string) (chatModel, tea.Cmd) {
	t.Helper()
	m.input.SetValue(text)
	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	return next.(chatModel), cmd
}

// findMsg runs cmd, unwrapping batches, and returns the first message of type T.
func findMsg[T any](cmd tea.Cmd) (T, bool) {
	var zero T
	if cmd == nil {
		return zero, false
	}
	switch msg := cmd().(type) {
	case T:
		return msg, true
	case tea.BatchMsg:
		for _, c := range msg {
			if got, ok := findMsg[T](c); ok {
				return got, true
			}
		}
	}
	return zero, false
}

func TestChatModel_Send(t *testing.T) {
	caller := &fakeCaller{res: ToolResult{Content: []Content{{Type: "text", Text: "Bonjour"}}}}
	m := newChatModel(context.Background(), caller, "qwen-max", "Answer in French")

	m, cmd := typeAndSend(t, m, "  Hello  ")
	assert.True(t, m.waiting)
	assert.Empty(t, m.input.Value())
	require.Len(t, m.history, 1)
	assert.Equal(t, chatEntry{role: "you", text: "Hello"}, m.history[0])
	assert.Contains(t, m.View(), "waiting for reply")

	reply, ok := findMsg[replyMsg](cmd)
	require.True(t, ok)
	assert.Equal(t, "ai_chat", caller.name)
	assert.Equal(t, map[string]any{
		"message":       "Hello",
		"model":         "qwen-max",
		"system_prompt": "Answer in French",
	}, caller.args)

	next, _ := m.Update(reply)
	m = next.(chatModel)
	assert.False(t, m.waiting)
	require.Len(t, m.history, 2)
	assert.Equal(t, chatEntry{role: "assistant", text: "Bonjour"}, m.history[1])
	assert.Contains(t, m.view.View(), "Bonjour")
}

func TestChatModel_OmitsEmptyOptions(t *testing.T) {
	caller := &fakeCaller{}
	m := newChatModel(context.Background(), caller, "", "")

	_, cmd := typeAndSend(t, m, "hi")
	_, ok := findMsg[replyMsg](cmd)
	require.True(t, ok)
	assert.Equal(t, map[string]any{"message": "hi"}, caller.args)
}

func TestChatModel_IgnoresBlankAndBusy(t *testing.T) {
	caller := &fakeCaller{}
	m := newChatModel(context.Background(), caller, "", "")

	m, cmd := typeAndSend(t, m, "   ")
	assert.Nil(t, cmd)
	assert.Empty(t, m.history)

	m, _ = typeAndSend(t, m, "first")
	require.True(t, m.waiting)
	m, cmd = typeAndSend(t, m, "second")
	assert.Nil(t, cmd)
	assert.Len(t, m.history, 1)
}

func TestChatModel_Errors(t *testing.T) {
	m := newChatModel(context.Background(), &fakeCaller{}, "", "")
	m, _ = typeAndSend(t, m, "hi")

	next, _ := m.Update(chatErrMsg{err: errors.New("proxy returned status 500: request timed out")})
	m = next.(chatModel)
	assert.False(t, m.waiting)
	require.Len(t, m.history, 2)
	assert.True(t, m.history[1].err)
	assert.Contains(t, m.view.View(), "request timed out")

	next, _ = m.Update(replyMsg{text: "error: invalid model", isError: true})
	m = next.(chatModel)
	assert.True(t, m.history[2].err)
}

func TestChatModel_CallerError(t *testing.T) {
	caller := &fakeCaller{err: errors.New("connection refused")}
	m := newChatModel(context.Background(), caller, "", "")

	_, cmd := typeAndSend(t, m, "hi")
	msg, ok := findMsg[chatErrMsg](cmd)
	require.True(t, ok)
	assert.EqualError(t, msg.err, "connection refused")
}

func TestChatModel_KeysAndResize(t *testing.T) {
	m := newChatModel(context.Background(), &fakeCaller{}, "", "")

	next, _ := m.Update(tea.WindowSizeMsg{Width: 120, Height: 40})
	m = next.(chatModel)
	assert.Equal(t, 120, m.view.Width)
	assert.Equal(t, 36, m.view.Height)
	assert.Equal(t, 116, m.input.Width)

	for _, key := range []tea.KeyType{tea.KeyCtrlC, tea.KeyEsc} {
		_, cmd := m.Update(tea.KeyMsg{Type: key})
		require.NotNil(t, cmd)
		assert.Equal(t, tea.Quit(), cmd())
	}

	assert.True(t, strings.Contains(m.View(), "esc: quit"))
}
