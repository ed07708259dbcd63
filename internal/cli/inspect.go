package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/roach88/preauth/internal/address"
	"github.com/roach88/preauth/internal/api"
	"github.com/roach88/preauth/internal/engine"
	"github.com/roach88/preauth/internal/store"
)

// InspectOptions holds flags for the inspect command.
type InspectOptions struct {
	*RootOptions
	TokenAccount   string
	DebitAuthority string
}

// InspectResult holds the records found.
type InspectResult struct {
	Delegate          *api.DelegateView          `json:"smart_delegate,omitempty"`
	PreAuthorizations []api.PreAuthorizationView `json:"pre_authorizations"`
}

// Text renders each record as indented key/value lines.
func (r InspectResult) Text() string {
	var b strings.Builder
	if r.Delegate != nil {
		fmt.Fprintf(&b, "smart_delegate %s\n", r.Delegate.Address)
		fmt.Fprintf(&b, "  token_account  %s\n  bump           %d\n", r.Delegate.TokenAccount, r.Delegate.Bump)
	}
	for _, pa := range r.PreAuthorizations {
		fmt.Fprintf(&b, "pre_authorization %s (%s)\n", pa.Address, pa.Variant)
		fmt.Fprintf(&b, "  token_account    %s\n", pa.TokenAccount)
		fmt.Fprintf(&b, "  debit_authority  %s\n", pa.DebitAuthority)
		fmt.Fprintf(&b, "  activation       %d\n", pa.ActivationUnixTimestamp)
		fmt.Fprintf(&b, "  paused           %t\n", pa.Paused)
		if o := pa.OneTime; o != nil {
			fmt.Fprintf(&b, "  authorized       %d until %d\n", o.AmountAuthorized, o.ExpiryUnixTimestamp)
			fmt.Fprintf(&b, "  debited          %d\n", o.AmountDebited)
		}
		if rc := pa.Recurring; rc != nil {
			cycles := "unbounded"
			if rc.NumCycles != nil {
				cycles = fmt.Sprint(*rc.NumCycles)
			}
			fmt.Fprintf(&b, "  authorized       %d every %ds, %s cycles, reset %t\n",
				rc.RecurringAmountAuthorized, rc.RepeatFrequencySeconds, cycles, rc.ResetEveryCycle)
			fmt.Fprintf(&b, "  debited          %d total, %d in cycle %d\n",
				rc.AmountDebitedTotal, rc.AmountDebitedLastCycle, rc.LastDebitedCycle)
		}
		if pa.Available != nil {
			fmt.Fprintf(&b, "  available        %d\n", *pa.Available)
		}
	}
	if r.Delegate == nil && len(r.PreAuthorizations) == 0 {
		b.WriteString("No records found.\n")
	}
	return b.String()
}

// NewInspectCommand creates the inspect command.
func NewInspectCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InspectOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "inspect [address]",
		Short: "Show stored records",
		Long: `Show the record stored at an address, or every record of a token
account. Available amounts are computed at the current time.

Examples:
  preauth inspect 7Xg...Qm
  preauth inspect --token-account 9aB...kL
  preauth inspect --token-account 9aB...kL --debit-authority 4Fz...p2`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			var addr string
			if len(args) == 1 {
				addr = args[0]
			}
			return runInspect(opts, addr, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.TokenAccount, "token-account", "", "list the token account's delegate and pre-authorizations")
	cmd.Flags().StringVar(&opts.DebitAuthority, "debit-authority", "", "with --token-account, show only this pair's pre-authorization")

	return cmd
}

func runInspect(opts *InspectOptions, addr string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	if (addr == "") == (opts.TokenAccount == "") {
		return NewExitError(ExitCommandError, "give either an address or --token-account")
	}
	if opts.DebitAuthority != "" && opts.TokenAccount == "" {
		return NewExitError(ExitCommandError, "--debit-authority requires --token-account")
	}

	d, st, err := opts.openDispatcher(zap.NewNop())
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	var result InspectResult
	if addr != "" {
		a, err := parseAddressArg("address", addr)
		if err != nil {
			return err
		}
		err = inspectAddress(ctx, d, st, a, &result)
		if err != nil {
			return reportLookupError(formatter, err)
		}
	} else {
		if err := inspectTokenAccount(ctx, d, opts, &result); err != nil {
			return reportLookupError(formatter, err)
		}
	}
	if result.PreAuthorizations == nil {
		result.PreAuthorizations = []api.PreAuthorizationView{}
	}
	return formatter.Success(result)
}

func inspectAddress(ctx context.Context, d *engine.Dispatcher, st *store.Store, addr address.Address, result *InspectResult) error {
	var kind store.Kind
	err := st.View(ctx, func(tx *store.Tx) error {
		var err error
		kind, err = tx.Kind(addr)
		return err
	})
	if err != nil {
		return err
	}

	switch kind {
	case store.KindDelegate:
		del, err := st.GetDelegate(ctx, addr)
		if err != nil {
			return err
		}
		v := api.NewDelegateView(engine.DelegateEntry{Address: addr, Delegate: del})
		result.Delegate = &v
	case store.KindPreAuthorization:
		entry, err := d.GetPreAuthorization(ctx, addr)
		if err != nil {
			return err
		}
		v, err := withAvailable(d, entry)
		if err != nil {
			return err
		}
		result.PreAuthorizations = append(result.PreAuthorizations, v)
	default:
		return fmt.Errorf("unknown record kind %q at %s", kind, addr)
	}
	return nil
}

func inspectTokenAccount(ctx context.Context, d *engine.Dispatcher, opts *InspectOptions, result *InspectResult) error {
	ta, err := parseAddressArg("token account", opts.TokenAccount)
	if err != nil {
		return err
	}

	if opts.DebitAuthority != "" {
		da, err := parseAddressArg("debit authority", opts.DebitAuthority)
		if err != nil {
			return err
		}
		entry, err := d.FindPreAuthorization(ctx, ta, da)
		if err != nil {
			return err
		}
		v, err := withAvailable(d, entry)
		if err != nil {
			return err
		}
		result.PreAuthorizations = []api.PreAuthorizationView{v}
		return nil
	}

	del, err := d.GetDelegate(ctx, ta)
	switch {
	case err == nil:
		v := api.NewDelegateView(del)
		result.Delegate = &v
	case !engine.IsCode(err, engine.CodeAccountNotInitialized):
		return err
	}

	entries, err := d.ListPreAuthorizations(ctx, store.Filter{TokenAccount: &ta})
	if err != nil {
		return err
	}
	for _, e := range entries {
		v, err := withAvailable(d, e)
		if err != nil {
			return err
		}
		result.PreAuthorizations = append(result.PreAuthorizations, v)
	}
	return nil
}

func withAvailable(d *engine.Dispatcher, entry store.PreAuthorizationEntry) (api.PreAuthorizationView, error) {
	v := api.NewPreAuthorizationView(entry)
	available, err := engine.Available(entry.PreAuthorization, d.Now())
	if err != nil {
		return v, err
	}
	v.Available = &available
	return v, nil
}

// reportLookupError writes err through the formatter and returns the
// matching exit error.
func reportLookupError(f *OutputFormatter, err error) error {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return err
	}
	if errors.Is(err, store.ErrNotFound) {
		if outErr := f.Error(ErrCodeNotFound, "no record at that address", nil); outErr != nil {
			return outErr
		}
		return WrapExitError(ExitFailure, "record not found", err)
	}
	if outErr := f.ProgramError(err); outErr != nil {
		return outErr
	}
	return WrapExitError(ExitFailure, "lookup failed", err)
}
