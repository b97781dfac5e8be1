package cli

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/erp/fulfillment/internal/application/delivery"
	"github.com/erp/fulfillment/internal/application/ordersync"
	"github.com/erp/fulfillment/internal/domain/fulfillment"
	"github.com/erp/fulfillment/internal/domain/shared"
	"github.com/erp/fulfillment/internal/infrastructure/scheduler"
	"github.com/erp/fulfillment/internal/interfaces/http/dto"
	"github.com/spf13/cobra"
)

// ReconcileOptions holds flags for the reconcile command.
type ReconcileOptions struct {
	*RootOptions
	Code     string
	Announce bool
}

// NewReconcileCommand creates the reconcile command.
func NewReconcileCommand(rootOpts *RootOptions, open Opener) *cobra.Command {
	opts := &ReconcileOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "reconcile <tracker>",
		Short: "Reconcile one tracker against the carrier",
		Long: `Reconcile one tracker. Without --code the carrier is asked for the
current status; with it the given status code is applied as if the carrier
had reported it.

Example:
  fulfillmentctl reconcile 1234567890
  fulfillmentctl reconcile 1234567890 --code ACCEPTED_AT_PICK_UP_POINT`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, rootOpts, open, func(s *Session, out *OutputFormatter) error {
				req := delivery.ReconcileRequest{Tracker: args[0], ObservedCode: opts.Code}
				outcome, err := s.Trackers.Reconcile(cmd.Context(), req)
				if err != nil {
					return reportError(out, err)
				}

				announced := false
				if opts.Announce && outcome.EnteredTransit() && outcome.Order != nil {
					announced, err = s.Trackers.AnnounceShipment(cmd.Context(), outcome.Order.LeadID)
					if err != nil {
						out.VerboseLog("announcement failed: %v", err)
					}
				}

				text := outcome.String()
				if announced {
					text += " (tracker announced)"
				}
				if err := out.Result(dto.ReconcileResponse{
					Outcome:   dto.NewOutcomeResponse(outcome),
					Announced: announced,
				}, text); err != nil {
					return err
				}
				return outcomeExit(outcome)
			})
		},
	}

	cmd.Flags().StringVar(&opts.Code, "code", "", "apply this carrier status code instead of polling")
	cmd.Flags().BoolVar(&opts.Announce, "announce", true, "send the tracker announcement when the order enters transit")

	return cmd
}

// NewLinkCommand creates the link command.
func NewLinkCommand(rootOpts *RootOptions, open Opener) *cobra.Command {
	return &cobra.Command{
		Use:   "link <lead-id> <tracker>",
		Short: "Link a tracker to a lead's order",
		Long: `Link a tracker to a lead's order and write it back to the CRM lead.
A tracker already set on the order, or linked to another order, is refused.

Example:
  fulfillmentctl link 31337 1234567890`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			leadID, err := parseLeadID(args[0])
			if err != nil {
				return err
			}
			return withSession(cmd, rootOpts, open, func(s *Session, out *OutputFormatter) error {
				outcome, err := s.Trackers.LinkTrackerToLead(cmd.Context(), leadID, args[1])
				if err != nil {
					return reportError(out, err)
				}
				if err := out.Result(dto.NewOutcomeResponse(outcome), outcome.String()); err != nil {
					return err
				}
				return outcomeExit(outcome)
			})
		},
	}
}

// NewSyncLeadCommand creates the sync-lead command.
func NewSyncLeadCommand(rootOpts *RootOptions, open Opener) *cobra.Command {
	return &cobra.Command{
		Use:           "sync-lead <lead-id>",
		Short:         "Pull a lead from the CRM into the order store",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			leadID, err := parseLeadID(args[0])
			if err != nil {
				return err
			}
			return withSession(cmd, rootOpts, open, func(s *Session, out *OutputFormatter) error {
				result, err := s.Leads.SyncLead(cmd.Context(), leadID)
				if err != nil {
					return reportError(out, err)
				}
				return out.Result(dto.NewLeadSyncResponse(result), describeSync(result))
			})
		},
	}
}

// NewOrderCommand creates the order command.
func NewOrderCommand(rootOpts *RootOptions, open Opener) *cobra.Command {
	return &cobra.Command{
		Use:           "order <lead-id>",
		Short:         "Show the stored order of a lead",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			leadID, err := parseLeadID(args[0])
			if err != nil {
				return err
			}
			return withSession(cmd, rootOpts, open, func(s *Session, out *OutputFormatter) error {
				order, err := s.Orders.FindByLeadID(cmd.Context(), leadID)
				if err != nil {
					return reportError(out, err)
				}
				return out.Result(dto.NewOrderResponse(order), describeOrder(order))
			})
		},
	}
}

// NewPassCommand creates the pass command.
func NewPassCommand(rootOpts *RootOptions, open Opener) *cobra.Command {
	return &cobra.Command{
		Use:   "pass <shipments|untracked>",
		Short: "Run one scheduler pass now",
		Long: `Run one scheduler pass in the foreground.

shipments  re-polls every tracked order that is not delivered yet
untracked  re-pulls every order without a tracker from the CRM`,
		Args:          cobra.ExactArgs(1),
		ValidArgs:     []string{string(scheduler.PassShipments), string(scheduler.PassUntracked)},
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			kind := scheduler.PassKind(args[0])
			if kind != scheduler.PassShipments && kind != scheduler.PassUntracked {
				return NewExitError(ExitCommandError, fmt.Sprintf("unknown pass %q: must be shipments or untracked", args[0]))
			}
			return withSession(cmd, rootOpts, open, func(s *Session, out *OutputFormatter) error {
				run := s.Passes.RunShipmentPass
				if kind == scheduler.PassUntracked {
					run = s.Passes.RunUntrackedPass
				}
				report, err := run(cmd.Context())
				if err != nil {
					return reportError(out, err)
				}
				if err := out.Result(report, describePass(report)); err != nil {
					return err
				}
				if report.Status == scheduler.PassStatusFailed {
					return NewExitError(ExitFailure, "pass failed: "+report.Error)
				}
				return nil
			})
		},
	}
}

// reportError prints err and converts it into an exit error
func reportError(out *OutputFormatter, err error) error {
	code := dto.ErrCodeInternal
	var domainErr *shared.DomainError
	if errors.As(err, &domainErr) {
		code = dto.NormalizeErrorCode(domainErr.Code)
	}
	if perr := out.Error(code, err.Error()); perr != nil {
		return perr
	}
	return WrapExitError(ExitFailure, code, err)
}

// outcomeExit maps a skipped outcome to a failure exit so scripts notice
func outcomeExit(o fulfillment.Outcome) error {
	if o.IsSkipped() {
		return NewExitError(ExitFailure, "skipped: "+string(o.Reason))
	}
	return nil
}

func describeOrder(o *fulfillment.Order) string {
	var b strings.Builder
	fmt.Fprintf(&b, "lead %d", o.LeadID)
	if o.Tracker != "" {
		fmt.Fprintf(&b, " tracker %s", o.Tracker)
	} else {
		b.WriteString(" (no tracker)")
	}
	if o.DeliveryStatus != "" {
		fmt.Fprintf(&b, "\nstatus: %s [%s] %s", o.DeliveryStatus, o.DeliveryPhase, fulfillment.HumanLabel(o.DeliveryStatus))
	}
	fmt.Fprintf(&b, "\nitems: %d total: %s", len(o.Items), o.Total().StringFixed(2))
	return b.String()
}

func describeSync(r *ordersync.SyncResult) string {
	var s string
	switch {
	case r.Skipped:
		return fmt.Sprintf("lead %d skipped: %s", r.LeadID, r.Reason)
	case r.Created:
		s = fmt.Sprintf("lead %d imported with %d items", r.LeadID, r.ItemCount)
	default:
		s = fmt.Sprintf("lead %d already stored", r.LeadID)
	}
	if r.LinkResult != nil {
		s += ", tracker " + r.LinkResult.String()
	}
	return s
}

func describePass(r *scheduler.PassReport) string {
	s := fmt.Sprintf("%s pass %s: total=%d applied=%d unchanged=%d skipped=%d failed=%d announced=%d resynced=%d in %s",
		r.Kind, r.Status, r.Total, r.Applied, r.Unchanged, r.Skipped, r.Failed, r.Announced, r.Resynced, r.Duration().Round(time.Millisecond))
	if r.Error != "" {
		s += "\nerror: " + r.Error
	}
	return s
}
