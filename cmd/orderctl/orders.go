package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/vanshika/checkout/backend/internal/domain"
	"github.com/vanshika/checkout/backend/internal/service"
)

func orderCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "order",
		Short: "Inspect and move orders",
	}
	cmd.AddCommand(orderGetCmd(opts))
	cmd.AddCommand(orderListCmd(opts))
	cmd.AddCommand(orderStatusCmd(opts))
	return cmd
}

func orderGetCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get [order-id]",
		Short: "Show one order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := withTimeout(cmd, opts.timeout)
			defer cancel()
			order, err := opts.backend().GetOrder(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, order)
		},
	}
}

func orderListCmd(opts *globalOptions) *cobra.Command {
	var (
		params service.ListOrdersParams
		admin  bool
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List orders visible to the token's actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := withTimeout(cmd, opts.timeout)
			defer cancel()
			page, err := opts.backend().ListOrders(ctx, admin, params)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd, page)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNUMBER\tCUSTOMER\tSTATUS\tPAYMENT\tTOTAL\tVERSION")
			for _, o := range page.Items {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%d\n",
					o.ID, o.OrderNumber, o.CustomerID, o.Status, o.PaymentStatus, formatMinor(o.Total, o.Currency), o.Version)
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			p := page.Pagination
			fmt.Fprintf(cmd.OutOrStdout(), "page %d of %d (%d orders)\n", p.Page, p.TotalPages, p.TotalItems)
			return nil
		},
	}
	f := cmd.Flags()
	f.IntVar(&params.Page, "page", 1, "Page number")
	f.IntVar(&params.PageSize, "page-size", 20, "Orders per page")
	f.StringVar(&params.CustomerID, "customer", "", "Filter by customer id (admin)")
	f.StringVar(&params.Status, "status", "", "Filter by order status")
	f.StringVar(&params.PaymentStatus, "payment-status", "", "Filter by payment status")
	f.StringVar(&params.Search, "search", "", "Match order number or id")
	f.StringVar(&params.SortField, "sort", "createdAt", "Sort field")
	f.StringVar(&params.SortOrder, "order", "desc", "Sort order (asc|desc)")
	f.BoolVar(&admin, "admin", false, "Use the admin listing")
	f.BoolVar(&asJSON, "json", false, "Print the raw page as JSON")
	return cmd
}

func orderStatusCmd(opts *globalOptions) *cobra.Command {
	var (
		req      service.StatusChangeRequest
		carrier  string
		tracking string
	)
	cmd := &cobra.Command{
		Use:   "status [order-id] [status]",
		Short: "Request a status transition",
		Long: `Request a status transition. The order's current version is used
unless --expected-version is given.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := withTimeout(cmd, opts.timeout)
			defer cancel()
			backend := opts.backend()
			if req.ExpectedVersion == 0 {
				current, err := backend.GetOrder(ctx, args[0])
				if err != nil {
					return err
				}
				req.ExpectedVersion = current.Version
			}
			req.Status = args[1]
			if carrier != "" || tracking != "" {
				req.Tracking = &domain.Tracking{Carrier: carrier, TrackingNumber: tracking}
			}
			order, err := backend.ChangeStatus(ctx, args[0], req)
			if err != nil {
				return err
			}
			return printJSON(cmd, order)
		},
	}
	f := cmd.Flags()
	f.Int64Var(&req.ExpectedVersion, "expected-version", 0, "Version the change is based on")
	f.StringVar(&req.Note, "note", "", "Note recorded on the timeline")
	f.StringVar(&carrier, "carrier", "", "Carrier name when shipping")
	f.StringVar(&tracking, "tracking-number", "", "Tracking number when shipping")
	return cmd
}

func withTimeout(cmd *cobra.Command, d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), d)
}

func formatMinor(amount int64, currency string) string {
	return fmt.Sprintf("%d.%02d %s", amount/100, amount%100, currency)
}
