package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/xraph/bridge/config"
	"github.com/xraph/bridge/pair"
)

func newPairsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pairs",
		Short: "Inspect bridge pairs",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List the persisted pairs, or the configured seed when none are stored",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return listPairs(cmd.Context(), cmd.OutOrStdout())
		},
	})
	return cmd
}

func listPairs(ctx context.Context, out io.Writer) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	st, err := openStores(ctx, cfg, slog.New(slog.DiscardHandler))
	if err != nil {
		return err
	}
	defer st.close()

	pairs, err := st.pairs.LoadPairs(ctx)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSOURCE\tDESTINATION\tTHREAD\tMODE")
	if len(pairs) > 0 {
		for _, p := range pairs {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", p.ID, endpoint(p.Source), endpoint(p.Destination), dash(p.ThreadID), p.Mode)
		}
		return tw.Flush()
	}

	seeds, err := cfg.Pairs()
	if err != nil {
		return err
	}
	for _, in := range seeds {
		mode := in.Mode
		if mode == "" {
			mode = pair.Bidirectional
		}
		fmt.Fprintf(tw, "(seed)\t%s\t%s\t%s\t%s\n", endpoint(in.Source), endpoint(in.Destination), dash(in.ThreadID), mode)
	}
	return tw.Flush()
}

func endpoint(e pair.Endpoint) string { return string(e.Platform) + ":" + e.ChannelID }

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
