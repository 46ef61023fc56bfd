package main

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/domen-source/storyweaver-consumer/internal/services"
)

func newOrdersCmd(appFn func() *app) *cobra.Command {
	ordersCmd := &cobra.Command{
		Use:   "orders",
		Short: "Inspect orders and their generation progress",
	}

	statusCmd := &cobra.Command{
		Use:   "status ID",
		Short: "Show backend status of an order",
		Args:  orderIDArg,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appFn()
			order, err := a.backend.OrderStatus(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("order status: %w", err)
			}
			if a.json {
				return a.printJSON(order)
			}
			fmt.Fprintf(a.out, "order:    %s\n", order.ID)
			fmt.Fprintf(a.out, "book:     %s\n", order.BookCode)
			fmt.Fprintf(a.out, "status:   %s\n", order.Status)
			fmt.Fprintf(a.out, "avatars:  %t\n", order.AvatarsGenerated)
			fmt.Fprintf(a.out, "preview:  %t\n", order.PreviewGenerated)
			fmt.Fprintf(a.out, "progress: %d/%d (%d%%)\n", order.Progress.PagesGenerated, order.Progress.Total(), order.Progress.Percent())
			fmt.Fprintf(a.out, "complete: %t\n", order.Complete())
			return nil
		},
	}

	pagesCmd := &cobra.Command{
		Use:   "pages ID",
		Short: "List the viewer pages of an order reconciled against its book template",
		Args:  orderIDArg,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appFn()
			pages, err := a.generation.ReconcilePages(cmd.Context(), args[0], true)
			if err != nil {
				return fmt.Errorf("order pages: %w", err)
			}
			if a.json {
				return a.printJSON(pages)
			}
			tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "PAGE\tKIND\tIMAGE")
			for _, page := range pages {
				kind := "generated"
				if page.Placeholder {
					kind = "placeholder"
				}
				fmt.Fprintf(tw, "%d\t%s\t%s\n", page.PageNumber, kind, page.ImageURL)
			}
			return tw.Flush()
		},
	}

	var start bool
	watchCmd := &cobra.Command{
		Use:   "watch ID",
		Short: "Poll full-book generation until it completes or times out",
		Args:  orderIDArg,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appFn()
			ctx := cmd.Context()
			orderID := args[0]
			if start {
				if _, err := a.backend.GeneratePages(ctx, orderID); err != nil {
					return fmt.Errorf("start generation: %w", err)
				}
				fmt.Fprintln(a.out, "full-book generation requested")
			}
			result, err := a.generation.PollGeneration(ctx, orderID, func(percent int) {
				fmt.Fprintf(a.out, "progress: %d%%\n", percent)
			})
			if errors.Is(err, services.ErrTimeout) || result.TimedOut {
				fmt.Fprintln(a.out, services.TimeoutNotice)
				return fmt.Errorf("order %s: %w", orderID, services.ErrTimeout)
			}
			if err != nil {
				return fmt.Errorf("watch generation: %w", err)
			}
			fmt.Fprintf(a.out, "complete: %d pages\n", len(result.Pages))
			return nil
		},
	}
	watchCmd.Flags().BoolVar(&start, "start", false, "request full-book generation before watching")

	ordersCmd.AddCommand(statusCmd, pagesCmd, watchCmd)
	return ordersCmd
}

func orderIDArg(cmd *cobra.Command, args []string) error {
	if err := cobra.ExactArgs(1)(cmd, args); err != nil {
		return err
	}
	if _, err := uuid.Parse(args[0]); err != nil {
		return fmt.Errorf("order id %q is not a UUID", args[0])
	}
	return nil
}
