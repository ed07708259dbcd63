package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/preauth/internal/address"
	"github.com/roach88/preauth/internal/store"
)

// Derivation is a program-derived address and its canonical bump.
type Derivation struct {
	Kind           string           `json:"kind"`
	Address        address.Address  `json:"address"`
	Bump           uint8            `json:"bump"`
	ProgramID      address.Address  `json:"program_id"`
	TokenAccount   address.Address  `json:"token_account"`
	DebitAuthority *address.Address `json:"debit_authority,omitempty"`
}

// Text renders the derivation as aligned key/value lines.
func (d Derivation) Text() string {
	s := fmt.Sprintf("%-16s %s\n%-16s %s\n%-16s %d\n%-16s %s\n",
		"kind", d.Kind, "address", d.Address, "bump", d.Bump, "token_account", d.TokenAccount)
	if d.DebitAuthority != nil {
		s += fmt.Sprintf("%-16s %s\n", "debit_authority", d.DebitAuthority)
	}
	return s
}

// NewDeriveCommand creates the derive command and its subcommands.
func NewDeriveCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "derive",
		Short: "Derive record addresses",
		Long: `Derive the canonical address and bump of a smart delegate or a
pre-authorization under the configured program id. No database is opened.`,
	}

	cmd.AddCommand(&cobra.Command{
		Use:           "delegate <token-account>",
		Short:         "Derive the smart delegate of a token account",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDerive(rootOpts, cmd, args[0], "")
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:           "pre-authorization <token-account> <debit-authority>",
		Short:         "Derive the pre-authorization of a (token account, debit authority) pair",
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDerive(rootOpts, cmd, args[0], args[1])
		},
	})

	return cmd
}

func runDerive(opts *RootOptions, cmd *cobra.Command, tokenAccount, debitAuthority string) error {
	formatter := opts.formatter(cmd)

	programID, err := opts.programID()
	if err != nil {
		return err
	}
	ta, err := parseAddressArg("token account", tokenAccount)
	if err != nil {
		return err
	}

	d := Derivation{ProgramID: programID, TokenAccount: ta}
	if debitAuthority == "" {
		d.Kind = string(store.KindDelegate)
		d.Address, d.Bump, err = address.FindDelegate(programID, ta)
	} else {
		da, perr := parseAddressArg("debit authority", debitAuthority)
		if perr != nil {
			return perr
		}
		d.Kind = string(store.KindPreAuthorization)
		d.DebitAuthority = &da
		d.Address, d.Bump, err = address.FindPreAuthorization(programID, ta, da)
	}
	if err != nil {
		return WrapExitError(ExitFailure, "derivation failed", err)
	}
	return formatter.Success(d)
}

func parseAddressArg(what, s string) (address.Address, error) {
	a, err := address.Parse(s)
	if err != nil {
		return address.Address{}, WrapExitError(ExitCommandError, "invalid "+what, err)
	}
	return a, nil
}
