package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
)

var (
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("46")).Bold(true)
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	nameStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("51")).Bold(true)
	mutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
)

// errToolFailed is returned when a tool reports isError.
var errToolFailed = errors.New("tool returned an error")

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether the proxy's server process is connected",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		s, err := newClient().Status(cmd.Context())
		if err != nil {
			return err
		}
		printStatus(cmd.OutOrStdout(), s)
		return nil
	},
}

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "List the server's tools",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		tools, err := newClient().Tools(cmd.Context())
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		for _, t := range tools {
			fmt.Fprintf(out, "%s  %s\n", nameStyle.Render(t.Name), t.Description)
			if verbose, _ := cmd.Flags().GetBool("schema"); verbose && len(t.InputSchema) > 0 {
				fmt.Fprintln(out, indentJSON(t.InputSchema))
			}
		}
		return nil
	},
}

var resourcesCmd = &cobra.Command{
	Use:   "resources",
	Short: "List the server's resources",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		resources, err := newClient().Resources(cmd.Context())
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		for _, r := range resources {
			fmt.Fprintf(out, "%s  %s  %s\n", nameStyle.Render(r.URI), r.Name, mutedStyle.Render(r.Description))
		}
		return nil
	},
}

var callCmd = &cobra.Command{
	Use:   "call TOOL",
	Short: "Call a tool through the proxy",
	Long: `Call a tool through the proxy. Arguments are given as key=value pairs;
values that parse as JSON (numbers, booleans, objects) are sent as such.

Examples:
  mcpctl call ai_chat --arg message="What is MCP?"
  mcpctl call ai_chat --arg message=hi --arg temperature=0.2 --arg model=qwen-plus`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pairs, _ := cmd.Flags().GetStringArray("arg")
		toolArgs, err := parseArgs(pairs)
		if err != nil {
			return err
		}
		res, err := newClient().CallTool(cmd.Context(), args[0], toolArgs)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), res.Text())
		if res.IsError {
			return errToolFailed
		}
		return nil
	},
}

var readCmd = &cobra.Command{
	Use:   "read URI",
	Short: "Read a resource through the proxy",
	Long: `Read a resource through the proxy.

Examples:
  mcpctl read file:///etc/hostname
  mcpctl read file://.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := newClient().Read(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		for _, c := range res.Contents {
			fmt.Fprintln(out, c.Text)
		}
		return nil
	},
}

func init() {
	toolsCmd.Flags().Bool("schema", false, "print each tool's input schema")
	callCmd.Flags().StringArray("arg", nil, "tool argument as key=value (repeatable)")
}

func printStatus(w io.Writer, s Status) {
	switch s.Status {
	case "connected":
		fmt.Fprintf(w, "%s  pid %d\n", okStyle.Render("● connected"), s.PID)
	default:
		fmt.Fprintln(w, errStyle.Render("● "+s.Status))
	}
}

// parseArgs turns key=value pairs into tool arguments.
func parseArgs(pairs []string) (map[string]any, error) {
	args := make(map[string]any, len(pairs))
	for _, p := range pairs {
		key, raw, ok := strings.Cut(p, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid argument %q: want key=value", p)
		}
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			v = raw
		}
		args[key] = v
	}
	return args, nil
}

func indentJSON(raw json.RawMessage) string {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	out, _ := json.MarshalIndent(v, "  ", "  ")
	return "  " + string(out)
}
