package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/vanshika/checkout/backend/internal/config"
	"github.com/vanshika/checkout/backend/internal/coordinator"
	"github.com/vanshika/checkout/backend/internal/domain"
	"github.com/vanshika/checkout/backend/internal/logging"
	"github.com/vanshika/checkout/backend/internal/processor"
	"github.com/vanshika/checkout/backend/internal/service"
)

type checkoutOptions struct {
	input        service.CheckoutInput
	instrument   string
	holder       string
	processorURL string
	processorKey string
	retries      int
	verifyAfter  time.Duration
	verbose      bool
}

func checkoutCmd(opts *globalOptions) *cobra.Command {
	co := &checkoutOptions{}
	cmd := &cobra.Command{
		Use:   "checkout",
		Short: "Check out the token holder's cart and pay for it",
		Long: `Create an order from the caller's cart and, for prepaid methods, run the
payment flow: open an intent, submit the instrument to the processor and
reconcile the outcome with the server. Declined payments are retried up to
--retries times; an unresolved outcome is verified once after --verify-after.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := withTimeout(cmd, opts.timeout)
			defer cancel()
			return runCheckout(ctx, cmd, opts, co)
		},
	}
	f := cmd.Flags()
	a := &co.input.ShippingAddress
	f.StringVar(&a.FirstName, "first-name", "", "Shipping first name")
	f.StringVar(&a.LastName, "last-name", "", "Shipping last name")
	f.StringVar(&a.Email, "email", "", "Contact email")
	f.StringVar(&a.Phone, "phone", "", "Contact phone")
	f.StringVar(&a.Line1, "line1", "", "Street address")
	f.StringVar(&a.Line2, "line2", "", "Apartment, suite, etc.")
	f.StringVar(&a.City, "city", "", "City")
	f.StringVar(&a.State, "state", "", "State or region")
	f.StringVar(&a.ZipCode, "zip", "", "Postal code")
	f.StringVar(&a.Country, "country", "IN", "Country code")
	f.StringVar(&co.input.PaymentMethod, "payment-method", "card", "card, upi, net_banking, wallet or cod")
	f.Int64Var(&co.input.Discount, "discount", 0, "Discount in minor units")
	f.StringVar(&co.input.Notes, "notes", "", "Order notes")
	f.StringVar(&co.instrument, "instrument", "4242424242424242", "Card number, UPI handle or wallet id")
	f.StringVar(&co.holder, "holder", "", "Instrument holder name")
	f.StringVar(&co.processorURL, "processor-url", "", "Processor base URL (default: <server>/processor-sim)")
	f.StringVar(&co.processorKey, "processor-key", "", "Processor API key")
	f.IntVar(&co.retries, "retries", 0, "Times to retry a failed payment")
	f.DurationVar(&co.verifyAfter, "verify-after", 5*time.Second, "Wait before verifying an unresolved payment")
	f.BoolVarP(&co.verbose, "verbose", "v", false, "Log coordinator state changes")
	return cmd
}

func runCheckout(ctx context.Context, cmd *cobra.Command, opts *globalOptions, co *checkoutOptions) error {
	out := cmd.OutOrStdout()
	backend := opts.backend()

	order, err := backend.CreateOrder(ctx, co.input)
	if err != nil {
		return fmt.Errorf("create order: %w", err)
	}
	fmt.Fprintf(out, "order %s (%s) created: %s\n", order.OrderNumber, order.ID, formatMinor(order.Pricing.Total, order.Pricing.Currency))
	if !order.Payment.Method.RequiresProcessor() {
		return printJSON(cmd, order)
	}

	processorURL := co.processorURL
	if processorURL == "" {
		processorURL = strings.TrimRight(opts.server, "/") + "/processor-sim"
	}
	logCfg := config.LoggingConfig{Level: "info", Format: "text"}
	if co.verbose {
		logCfg.Level = "debug"
	}
	coord := coordinator.New(backend,
		processor.NewHTTPGateway(processorURL, co.processorKey, 30*time.Second),
		order.ID, order.Version,
		coordinator.Config{Logger: logging.NewWithWriter(logCfg, cmd.ErrOrStderr())})
	defer coord.Close()

	if err := coord.Start(ctx); err != nil {
		return fmt.Errorf("open payment intent: %w", err)
	}
	details := processor.PaymentDetails{
		Method:     co.input.PaymentMethod,
		Instrument: co.instrument,
		HolderName: co.holder,
	}
	if details.HolderName == "" {
		details.HolderName = strings.TrimSpace(co.input.ShippingAddress.FirstName + " " + co.input.ShippingAddress.LastName)
	}

	err = coord.Submit(ctx, details)
	for attempt := 0; coord.State() == coordinator.StateFailed && attempt < co.retries; attempt++ {
		fmt.Fprintf(out, "payment failed (%v), retrying\n", coord.Err())
		if err = coord.Retry(ctx); err != nil {
			break
		}
		err = coord.Submit(ctx, details)
	}
	if coord.State() == coordinator.StateAmbiguous {
		fmt.Fprintf(out, "payment outcome unknown, verifying in %s\n", co.verifyAfter)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(co.verifyAfter):
		}
		err = coord.Verify(ctx)
	}

	fmt.Fprintf(out, "payment %s\n", coord.State())
	if final, ok := coord.Order(); ok {
		if perr := printJSON(cmd, final); perr != nil {
			return perr
		}
	}
	switch {
	case coord.State() == coordinator.StateSucceeded:
		return nil
	case errors.Is(err, domain.ErrReconciliationAmbiguous):
		return fmt.Errorf("payment for order %s is unresolved; the server sweep will settle it", order.ID)
	case err != nil:
		return err
	default:
		return coord.Err()
	}
}
