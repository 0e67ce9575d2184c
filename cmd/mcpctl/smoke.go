package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"
)

var smokeCmd = &cobra.Command{
	Use:   "smoke",
	Short: "Spawn the stdio server and exercise every operation",
	Long: `Spawn the dashscope-mcp stdio server and run tools/list, an ai_chat call,
resources/list and a file read against it. The server inherits the current
environment, so DASHSCOPE_API_KEY must be set.

Examples:
  mcpctl smoke
  mcpctl smoke --server-bin ./bin/dashscope-mcp --message "Say hi"`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		bin, _ := cmd.Flags().GetString("server-bin")
		message, _ := cmd.Flags().GetString("message")
		uri, _ := cmd.Flags().GetString("uri")

		ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
		defer cancel()

		server := exec.Command(bin)
		server.Stderr = os.Stderr
		return runSmoke(ctx, cmd.OutOrStdout(), &mcp.CommandTransport{Command: server}, message, uri)
	},
}

func init() {
	smokeCmd.Flags().String("server-bin", "dashscope-mcp", "stdio server executable")
	smokeCmd.Flags().String("message", "Hello! Please introduce yourself in one sentence.", "ai_chat message")
	smokeCmd.Flags().String("uri", "file://.", "resource to read")
}

// runSmoke drives one MCP session over transport and reports each step.
func runSmoke(ctx context.Context, out io.Writer, transport mcp.Transport, message, uri string) error {
	client := mcp.NewClient(&mcp.Implementation{Name: "mcpctl", Version: version}, nil)
	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to server: %w", err)
	}
	defer session.Close()

	step := func(name string) { fmt.Fprintln(out, nameStyle.Render("== "+name)) }

	step("tools/list")
	tools, err := session.ListTools(ctx, nil)
	if err != nil {
		return fmt.Errorf("tools/list: %w", err)
	}
	for _, t := range tools.Tools {
		fmt.Fprintf(out, "  %s  %s\n", t.Name, mutedStyle.Render(t.Description))
	}

	step("tools/call ai_chat")
	res, err := session.CallTool(ctx, &mcp.CallToolParams{
		Name:      "ai_chat",
		Arguments: map[string]any{"message": message},
	})
	if err != nil {
		return fmt.Errorf("tools/call: %w", err)
	}
	for _, c := range res.Content {
		if text, ok := c.(*mcp.TextContent); ok {
			fmt.Fprintln(out, text.Text)
		}
	}
	if res.IsError {
		fmt.Fprintln(out, errStyle.Render("  ai_chat reported an error"))
	}

	step("resources/list")
	resources, err := session.ListResources(ctx, nil)
	if err != nil {
		return fmt.Errorf("resources/list: %w", err)
	}
	for _, r := range resources.Resources {
		fmt.Fprintf(out, "  %s  %s\n", r.URI, mutedStyle.Render(r.Description))
	}

	step("resources/read " + uri)
	read, err := session.ReadResource(ctx, &mcp.ReadResourceParams{URI: uri})
	if err != nil {
		return fmt.Errorf("resources/read: %w", err)
	}
	for _, c := range read.Contents {
		fmt.Fprintln(out, c.Text)
	}

	fmt.Fprintln(out, okStyle.Render("smoke test passed"))
	if res.IsError {
		return errToolFailed
	}
	return nil
}
