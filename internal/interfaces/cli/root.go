// Package cli implements fulfillmentctl, the operator command line for
// one-off reconciliation, tracker linking and scheduler passes.
package cli

import (
	"context"
	"fmt"
	"slices"

	"github.com/erp/fulfillment/internal/application/delivery"
	"github.com/erp/fulfillment/internal/application/ordersync"
	"github.com/erp/fulfillment/internal/domain/fulfillment"
	"github.com/erp/fulfillment/internal/infrastructure/scheduler"
	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigFile string
	Verbose    bool
	Format     string // "json" | "text"
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// TrackerService is the delivery capability the commands drive
type TrackerService interface {
	Reconcile(ctx context.Context, req delivery.ReconcileRequest) (fulfillment.Outcome, error)
	LinkTrackerToLead(ctx context.Context, leadID int64, tracker string) (fulfillment.Outcome, error)
	AnnounceShipment(ctx context.Context, leadID int64) (bool, error)
}

// LeadSyncer pulls a lead from the CRM
type LeadSyncer interface {
	SyncLead(ctx context.Context, leadID int64) (*ordersync.SyncResult, error)
}

// OrderReader looks orders up by lead
type OrderReader interface {
	FindByLeadID(ctx context.Context, leadID int64) (*fulfillment.Order, error)
}

// PassRunner runs scheduler passes on demand
type PassRunner interface {
	RunShipmentPass(ctx context.Context) (*scheduler.PassReport, error)
	RunUntrackedPass(ctx context.Context) (*scheduler.PassReport, error)
}

// Session is an opened application: every service a command may need plus
// the release hook.
type Session struct {
	Trackers TrackerService
	Leads    LeadSyncer
	Orders   OrderReader
	Passes   PassRunner
	Close    func() error
}

// Opener builds a Session from the global flags. Commands open lazily so
// --help never touches the database.
type Opener func(ctx context.Context, opts *RootOptions) (*Session, error)

// NewRootCommand creates the root command for fulfillmentctl.
func NewRootCommand(open Opener) *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "fulfillmentctl",
		Short: "Operate the order fulfillment reconciler",
		Long:  "Reconcile carrier statuses, link trackers and run scheduler passes against the CRM, the carrier and the sheet ledger.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	// Global flags
	cmd.PersistentFlags().StringVarP(&opts.ConfigFile, "config", "c", "", "config file (default: ./config.toml)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	// Add subcommands
	cmd.AddCommand(NewReconcileCommand(opts, open))
	cmd.AddCommand(NewLinkCommand(opts, open))
	cmd.AddCommand(NewSyncLeadCommand(opts, open))
	cmd.AddCommand(NewOrderCommand(opts, open))
	cmd.AddCommand(NewPassCommand(opts, open))

	return cmd
}

// withSession opens the application, runs fn and releases it
func withSession(cmd *cobra.Command, opts *RootOptions, open Opener, fn func(*Session, *OutputFormatter) error) error {
	out := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	session, err := open(cmd.Context(), opts)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open application", err)
	}
	defer func() {
		if session.Close != nil {
			if cerr := session.Close(); cerr != nil {
				out.VerboseLog("close: %v", cerr)
			}
		}
	}()

	return fn(session, out)
}
