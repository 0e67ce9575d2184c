package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Interactive chat through the ai_chat tool",
	Long: `Open an interactive chat session. Every message is sent to the ai_chat
tool through the proxy as a single-turn request.

Examples:
  mcpctl chat
  mcpctl chat --model qwen-max --system "Answer in French"`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		model, _ := cmd.Flags().GetString("model")
		system, _ := cmd.Flags().GetString("system")

		m := newChatModel(cmd.Context(), newClient(), model, system)
		_, err := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(cmd.Context())).Run()
		return err
	},
}

func init() {
	chatCmd.Flags().String("model", "", "model name (server default when empty)")
	chatCmd.Flags().String("system", "", "system prompt")
}

// toolCaller is the part of ProxyClient the chat model needs.
type toolCaller interface {
	CallTool(ctx context.Context, name string, args map[string]any) (ToolResult, error)
}

var (
	userStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("51")).Bold(true)
	assistantStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("46")).Bold(true)
	chatHelpStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

type chatEntry struct {
	role string
	text string
	err  bool
}

type replyMsg struct {
	text    string
	isError bool
}

type chatErrMsg struct{ err error }

type chatModel struct {
	ctx     context.Context
	client  toolCaller
	model   string
	system  string
	input   textinput.Model
	view    viewport.Model
	spinner spinner.Model
	history []chatEntry
	waiting bool
	width   int
}

func newChatModel(ctx context.Context, client toolCaller, model, system string) chatModel {
	in := textinput.New()
	in.Prompt = "> "
	in.Placeholder = "Ask something..."
	in.CharLimit = 4000
	in.Width = 76
	in.Focus()

	return chatModel{
		ctx:     ctx,
		client:  client,
		model:   model,
		system:  system,
		input:   in,
		view:    viewport.New(80, 20),
		spinner: spinner.New(spinner.WithSpinner(spinner.Dot)),
		width:   80,
	}
}

func (m chatModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m chatModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit
		case tea.KeyEnter:
			text := strings.TrimSpace(m.input.Value())
			if text == "" || m.waiting {
				return m, nil
			}
			m.input.Reset()
			m.history = append(m.history, chatEntry{role: "you", text: text})
			m.waiting = true
			m.refresh()
			return m, tea.Batch(m.send(text), m.spinner.Tick)
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.view.Width = msg.Width
		m.view.Height = max(msg.Height-4, 1)
		m.input.Width = max(msg.Width-4, 10)
		m.refresh()

	case replyMsg:
		m.waiting = false
		m.history = append(m.history, chatEntry{role: "assistant", text: msg.text, err: msg.isError})
		m.refresh()
		return m, nil

	case chatErrMsg:
		m.waiting = false
		m.history = append(m.history, chatEntry{role: "error", text: msg.err.Error(), err: true})
		m.refresh()
		return m, nil

	case spinner.TickMsg:
		if !m.waiting {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	m.view, cmd = m.view.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

// send calls ai_chat with message and the configured model and system prompt.
func (m chatModel) send(message string) tea.Cmd {
	args := map[string]any{"message": message}
	if m.model != "" {
		args["model"] = m.model
	}
	if m.system != "" {
		args["system_prompt"] = m.system
	}
	return func() tea.Msg {
		res, err := m.client.CallTool(m.ctx, "ai_chat", args)
		if err != nil {
			return chatErrMsg{err: err}
		}
		return replyMsg{text: res.Text(), isError: res.IsError}
	}
}

func (m *chatModel) refresh() {
	var b strings.Builder
	wrap := lipgloss.NewStyle().Width(max(m.width-2, 10))
	for _, e := range m.history {
		switch {
		case e.err:
			b.WriteString(errStyle.Render(e.role+":") + "\n")
		case e.role == "you":
			b.WriteString(userStyle.Render("you:") + "\n")
		default:
			b.WriteString(assistantStyle.Render(e.role+":") + "\n")
		}
		b.WriteString(wrap.Render(e.text) + "\n\n")
	}
	m.view.SetContent(b.String())
	m.view.GotoBottom()
}

func (m chatModel) View() string {
	status := chatHelpStyle.Render("enter: send • esc: quit")
	if m.waiting {
		status = fmt.Sprintf("%s %s", m.spinner.View(), chatHelpStyle.Render("waiting for reply..."))
	}
	return m.view.View() + "\n" + m.input.View() + "\n" + status
}
