package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func newToolsCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "tools",
		Short: "List the tools the model can call",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.listTools(cmd.Context(), cmd.OutOrStdout())
		},
	}
}

func (a *app) listTools(ctx context.Context, out io.Writer) error {
	tools, servers, err := buildTools(ctx, a.cfg)
	if err != nil {
		return err
	}
	defer servers.Close()

	list, err := tools.ListTools(ctx)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	for _, t := range list {
		fmt.Fprintf(w, "%s\t%s\n", color.CyanString(t.Name), t.Description)
	}
	return w.Flush()
}
