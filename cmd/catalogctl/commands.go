package main

import (
	"fmt"
	"strconv"
	"time"

	"brickcache-api/internal/model"
	"brickcache-api/internal/service"

	"github.com/spf13/cobra"
)

const stampLayout = "2006-01-02 15:04"

func newRefreshCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Refresh every due price record now",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := ctx.ensureApp()
			if err != nil {
				return err
			}
			report, err := a.Refresh.Run(cmd.Context(), service.TriggerCLI)
			if report != nil {
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Run:       %s\n", report.RunID)
				fmt.Fprintf(out, "Attempted: %d in %d batches\n", report.Attempted, report.Batches)
				fmt.Fprintf(out, "Succeeded: %d\n", report.Succeeded)
				fmt.Fprintf(out, "Failed:    %d\n", report.Failed)
				fmt.Fprintf(out, "Duration:  %v\n", report.Duration.Round(time.Millisecond))
			}
			return err
		},
	}
}

func newLookupCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "lookup <part|figure> <id>",
		Short: "Show metadata for an item, fetching it on a miss",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := model.ParseKind(args[0])
			if err != nil {
				return err
			}
			a, err := ctx.ensureApp()
			if err != nil {
				return err
			}
			rec, err := a.Catalog.RequestMetadata(cmd.Context(), kind, args[1])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if rec == nil {
				fmt.Fprintln(out, "Metadata unavailable, try again later")
				return nil
			}
			fmt.Fprintf(out, "%s %s: %s\n", rec.Kind, rec.PrimaryID, rec.Name)
			if rec.Invalid {
				fmt.Fprintln(out, "Marked invalid: the primary catalog has no such item")
				return nil
			}
			if rec.SetID != "" {
				fmt.Fprintf(out, "Set: %s\n", rec.SetID)
			}
			rows := make([][]string, 0, len(rec.AvailableColors))
			for _, c := range rec.AvailableColors {
				img := ""
				if c.ImageURL != nil {
					img = *c.ImageURL
				}
				rows = append(rows, []string{c.ColorID, c.ColorName, img})
			}
			if len(rows) > 0 {
				fmt.Fprintln(out, renderTable([]string{"Color", "Name", "Image"}, rows, []columnAlignment{alignRight}))
			}
			return nil
		},
	}
}

func newPriceCommand(ctx *commandContext) *cobra.Command {
	var name, setID string
	cmd := &cobra.Command{
		Use:   "price <id>",
		Short: "Show the stored price, or acquire it with --name and --set",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := ctx.ensureApp()
			if err != nil {
				return err
			}
			var rec *model.PriceRecord
			if name != "" || setID != "" {
				rec, err = a.Catalog.ResolveAndPrice(cmd.Context(), model.KindPart, args[0], name, setID)
			} else {
				rec, err = a.Catalog.RequestPrice(cmd.Context(), args[0])
			}
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if rec == nil {
				fmt.Fprintln(out, "No price stored")
				return nil
			}
			fmt.Fprintf(out, "%s (%s) in %s, expires %s\n",
				rec.PrimaryID, rec.SecondaryIDValue(), rec.CurrencyCode, rec.ExpiresAt.Local().Format(stampLayout))
			rows := [][]string{
				{"new", formatAmount(rec.MinNew), formatAmount(rec.AvgNew), formatAmount(rec.MaxNew)},
				{"used", formatAmount(rec.MinUsed), formatAmount(rec.AvgUsed), formatAmount(rec.MaxUsed)},
			}
			fmt.Fprintln(out, renderTable([]string{"Condition", "Min", "Avg", "Max"}, rows,
				[]columnAlignment{alignLeft, alignRight, alignRight, alignRight}))
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Item name to resolve on the marketplace")
	cmd.Flags().StringVar(&setID, "set", "", "Set whose listing contains the item")
	return cmd
}

func newResolveCommand(ctx *commandContext) *cobra.Command {
	var setID string
	cmd := &cobra.Command{
		Use:   "resolve <name>",
		Short: "Resolve an item name to its marketplace ID within a set's listing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := ctx.ensureApp()
			if err != nil {
				return err
			}
			id, err := a.Market.ResolveID(cmd.Context(), args[0], setID)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}
	cmd.Flags().StringVar(&setID, "set", "", "Set whose listing holds the candidates")
	_ = cmd.MarkFlagRequired("set")
	return cmd
}

func newRunsCommand(ctx *commandContext) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recent refresh runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := ctx.ensureApp()
			if err != nil {
				return err
			}
			runs, total, err := a.Repo.ListRefreshRuns(cmd.Context(), limit, 0)
			if err != nil {
				return err
			}
			rows := make([][]string, 0, len(runs))
			for _, r := range runs {
				rows = append(rows, []string{
					r.StartedAt.Local().Format(stampLayout),
					r.Trigger,
					strconv.Itoa(r.Attempted),
					strconv.Itoa(r.Succeeded),
					strconv.Itoa(r.Failed),
					(time.Duration(r.DurationMs) * time.Millisecond).String(),
					r.Error,
				})
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, renderTable(
				[]string{"Started", "Trigger", "Attempted", "OK", "Failed", "Duration", "Error"}, rows,
				[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignRight, alignRight}))
			fmt.Fprintf(out, "%d of %d runs\n", len(runs), total)
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of runs to show")
	return cmd
}

func newExpireCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "expire <id>...",
		Short: "Flag price records so the next refresh picks them up",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := ctx.ensureApp()
			if err != nil {
				return err
			}
			n, err := a.Catalog.ForceRefresh(cmd.Context(), args)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Flagged %d of %d records\n", n, len(args))
			return nil
		},
	}
}
