package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/preauth/internal/engine"
	"github.com/roach88/preauth/internal/policy"
	"github.com/roach88/preauth/internal/state"
)

// PolicySummary is the validated form of one policy.
type PolicySummary struct {
	File                    string                  `json:"file"`
	Name                    string                  `json:"name"`
	TokenAccount            string                  `json:"token_account,omitempty"`
	DebitAuthority          string                  `json:"debit_authority,omitempty"`
	ActivationUnixTimestamp int64                   `json:"activation_unix_timestamp"`
	Variant                 string                  `json:"variant"`
	OneTime                 *engine.OneTimeParams   `json:"one_time,omitempty"`
	Recurring               *engine.RecurringParams `json:"recurring,omitempty"`
}

// PolicyReport lists every policy in the validated files.
type PolicyReport struct {
	Policies []PolicySummary `json:"policies"`
}

// Text renders one line per policy.
func (r PolicyReport) Text() string {
	var b strings.Builder
	for _, p := range r.Policies {
		fmt.Fprintf(&b, "✓ %s: %s (%s, activation %d)\n", p.File, p.Name, p.Variant, p.ActivationUnixTimestamp)
	}
	fmt.Fprintf(&b, "%d policy(ies) valid\n", len(r.Policies))
	return b.String()
}

// NewPolicyCommand creates the policy command group.
func NewPolicyCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Work with CUE policy files",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "validate <file.cue>...",
		Short: "Validate policy files against the schema",
		Long: `Validate CUE policy files against the embedded schema and the rules
InitPreAuthorization enforces (non-zero repeat frequency, 64-bit
timestamps, exactly one variant). Nothing is written.`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPolicyValidate(rootOpts, args, cmd)
		},
	})

	return cmd
}

func runPolicyValidate(opts *RootOptions, files []string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	var report PolicyReport
	for _, file := range files {
		formatter.VerboseLog("validating %s", file)
		policies, err := policy.LoadFile(file)
		if err != nil {
			if outErr := outputPolicyError(formatter, file, err); outErr != nil {
				return outErr
			}
			return WrapExitError(ExitFailure, "invalid policy", err)
		}
		for _, p := range policies {
			report.Policies = append(report.Policies, summarize(file, p))
		}
	}
	return formatter.Success(report)
}

func summarize(file string, p policy.Policy) PolicySummary {
	s := PolicySummary{
		File:                    file,
		Name:                    p.Name,
		TokenAccount:            p.TokenAccount,
		DebitAuthority:          p.DebitAuthority,
		ActivationUnixTimestamp: p.ActivationUnixTimestamp,
	}
	switch v := p.Variant.(type) {
	case engine.OneTimeParams:
		s.Variant = state.VariantOneTime
		s.OneTime = &v
	case engine.RecurringParams:
		s.Variant = state.VariantRecurring
		s.Recurring = &v
	}
	return s
}

// outputPolicyError reports a policy error under the program code it maps
// to, when there is one.
func outputPolicyError(f *OutputFormatter, file string, err error) error {
	var pe *policy.Error
	if !errors.As(err, &pe) {
		return f.Error(ErrCodeGeneric, err.Error(), map[string]string{"file": file})
	}
	details := map[string]string{"file": file, "field": pe.Field}
	if pe.Pos.IsValid() {
		details["line"] = fmt.Sprint(pe.Pos.Line())
	}
	code := ErrCodePolicy
	if c := engine.CodeOf(err); c != "" {
		code = string(c)
	}
	return f.Error(code, pe.Error(), details)
}
