package cmd

import (
	"context"
	"fmt"
	"io"
	"maps"
	"slices"

	"github.com/spf13/cobra"

	"github.com/dotcommander/gizmo/internal/config"
	"github.com/dotcommander/gizmo/internal/mcp"
	"github.com/dotcommander/gizmo/internal/present"
)

func newMCPCmd(rt *runtime) *cobra.Command {
	mcpCmd := &cobra.Command{
		Use:   "mcp",
		Short: "MCP server integration",
	}

	mcpCmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List configured MCP servers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if rt.cfgErr != nil {
				return rt.cfgErr
			}
			mcpList(cmd.OutOrStdout(), &rt.cfg)
			return nil
		},
	})

	mcpCmd.AddCommand(&cobra.Command{
		Use:   "tools",
		Short: "Start the enabled MCP servers and list their tools",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if rt.cfgErr != nil {
				return rt.cfgErr
			}
			return mcpListTools(cmd.Context(), cmd.OutOrStdout(), &rt.cfg, mcp.WithLogger(newLogger(&rt.cfg)))
		},
	})

	return mcpCmd
}

func mcpList(w io.Writer, cfg *config.Config) {
	reg := mcp.NewRegistry(cfg)
	s := present.StdoutStyles()
	for _, name := range slices.Sorted(maps.Keys(cfg.MCPServers)) {
		server := cfg.MCPServers[name]
		line := name + s.Comment.Render(" "+describeServer(server))
		if reg.IsEnabled(name) {
			line += s.Timeago.Render(" (enabled)")
		}
		fmt.Fprintln(w, line)
	}
}

func describeServer(server config.MCPServerConfig) string {
	switch server.Type {
	case "sse", "http":
		return server.Type + " " + server.URL
	}
	out := server.Command
	for _, a := range server.Args {
		out += " " + a
	}
	return out
}

func mcpListTools(ctx context.Context, w io.Writer, cfg *config.Config, opts ...mcp.Option) error {
	reg := mcp.NewRegistry(cfg, opts...)
	defer reg.ShutdownAll() //nolint:errcheck

	if err := reg.Initialize(ctx); err != nil {
		return fmt.Errorf("mcp list tools: %w", err)
	}

	s := present.StdoutStyles()
	for _, st := range reg.Servers() {
		if !st.Available() {
			fmt.Fprintln(w, s.ToolFailed.Render(st.Name+" > unavailable: "+st.Err.Error()))
		}
	}
	for _, tool := range reg.Tools() {
		fmt.Fprint(w, s.Timeago.Render(tool.Server+" > "))
		fmt.Fprintln(w, tool.Name+s.Comment.Render(" "+tool.Description))
	}
	return nil
}
