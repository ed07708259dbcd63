package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/roach88/preauth/internal/ledger"
)

// Scenario drives the dispatcher through a sequence of operations against a
// fixture ledger and checks the outcome of each step and the final state.
//
// Addresses are written as symbolic names ("alice", "alice_usdc") or base58
// strings; names are resolved with testutil.Resolve.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Clock is the unix time at which the first step runs.
	Clock int64 `yaml:"clock"`

	// Ledger is the initial state of the in-memory token ledger.
	Ledger ledger.Fixture `yaml:"ledger"`

	// Steps run in order. Each step's outcome is checked against Expect.
	Steps []Step `yaml:"steps"`

	// Assertions validate the event log and final state.
	Assertions []Assertion `yaml:"assertions,omitempty"`

	// OpPrefix seeds the deterministic operation IDs. Defaults to the
	// scenario name.
	OpPrefix string `yaml:"op_prefix,omitempty"`
}

// Step is one operation.
type Step struct {
	// Op is one of the Op* constants.
	Op string `yaml:"op"`

	// Signers lists the addresses that signed the request.
	Signers []string `yaml:"signers,omitempty"`

	// Args are the request arguments.
	Args StepArgs `yaml:"args,omitempty"`

	// Expect is "ok" (the default) or the outcome label of the expected
	// failure: a program error code such as "PreAuthorizationPaused", or a
	// ledger failure such as "InsufficientFunds".
	Expect string `yaml:"expect,omitempty"`
}

// StepArgs is the union of every operation's arguments. Fields an operation
// does not use are ignored.
type StepArgs struct {
	Payer          string `yaml:"payer,omitempty"`
	Holder         string `yaml:"holder,omitempty"`
	Authority      string `yaml:"authority,omitempty"`
	TokenAccount   string `yaml:"token_account,omitempty"`
	DebitAuthority string `yaml:"debit_authority,omitempty"`
	Destination    string `yaml:"destination,omitempty"`
	Mint           string `yaml:"mint,omitempty"`
	Receiver       string `yaml:"receiver,omitempty"`
	Amount         uint64 `yaml:"amount,omitempty"`
	Pause          bool   `yaml:"pause,omitempty"`

	// Seconds is the step of an advance.
	Seconds int64 `yaml:"seconds,omitempty"`

	// Activation is the activation timestamp of init_pre_authorization.
	Activation int64 `yaml:"activation,omitempty"`

	// Exactly one of OneTime, Recurring or Policy configures
	// init_pre_authorization. Policy is CUE source in the policy schema.
	OneTime   *OneTimeArgs   `yaml:"one_time,omitempty"`
	Recurring *RecurringArgs `yaml:"recurring,omitempty"`
	Policy    string         `yaml:"policy,omitempty"`
}

// OneTimeArgs configures a one-time pre-authorization.
type OneTimeArgs struct {
	AmountAuthorized    uint64 `yaml:"amount_authorized"`
	ExpiryUnixTimestamp int64  `yaml:"expiry_unix_timestamp"`
}

// RecurringArgs configures a recurring pre-authorization.
type RecurringArgs struct {
	RepeatFrequencySeconds    uint64  `yaml:"repeat_frequency_seconds"`
	RecurringAmountAuthorized uint64  `yaml:"recurring_amount_authorized"`
	NumCycles                 *uint64 `yaml:"num_cycles,omitempty"`
	ResetEveryCycle           bool    `yaml:"reset_every_cycle"`
}

// Step operations.
const (
	OpInitDelegate          = "init_delegate"
	OpCloseDelegate         = "close_delegate"
	OpInitPreAuthorization  = "init_pre_authorization"
	OpDebit                 = "debit"
	OpCheckDebit            = "check_debit"
	OpMaxDebit              = "max_debit"
	OpSetPause              = "set_pause"
	OpClosePreAuthorization = "close_pre_authorization"
	OpAdvance               = "advance"
)

var knownOps = map[string]bool{
	OpInitDelegate:          true,
	OpCloseDelegate:         true,
	OpInitPreAuthorization:  true,
	OpDebit:                 true,
	OpCheckDebit:            true,
	OpMaxDebit:              true,
	OpSetPause:              true,
	OpClosePreAuthorization: true,
	OpAdvance:               true,
}

// Assertion validates the event log or final state.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Account is the token account or native account (balance, lamports).
	Account string `yaml:"account,omitempty"`

	// TokenAccount and DebitAuthority name a record (delegated,
	// pre_authorization, max_debit).
	TokenAccount   string `yaml:"token_account,omitempty"`
	DebitAuthority string `yaml:"debit_authority,omitempty"`

	// Amount is the expected balance, lamports or max debit.
	Amount *uint64 `yaml:"amount,omitempty"`

	// Expected record state (pre_authorization, delegated).
	Exists    *bool   `yaml:"exists,omitempty"`
	Paused    *bool   `yaml:"paused,omitempty"`
	Available *uint64 `yaml:"available,omitempty"`
	Debited   *uint64 `yaml:"debited,omitempty"`
	Delegated *bool   `yaml:"delegated,omitempty"`

	// Kind and Count are used by event_count; Kinds by event_order.
	Kind  string   `yaml:"kind,omitempty"`
	Count *int     `yaml:"count,omitempty"`
	Kinds []string `yaml:"kinds,omitempty"`
}

// Assertion type constants.
const (
	AssertBalance          = "balance"
	AssertLamports         = "lamports"
	AssertDelegated        = "delegated"
	AssertPreAuthorization = "pre_authorization"
	AssertMaxDebit         = "max_debit"
	AssertEventCount       = "event_count"
	AssertEventOrder       = "event_order"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict fields catch typos like "assertion:" vs "assertions:".
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// Discover returns the scenario files (*.yaml, *.yml) under dir, sorted.
// A path naming a single file is returned as is.
func Discover(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("scenario path: %w", err)
	}
	if !info.IsDir() {
		return []string{path}, nil
	}

	var files []string
	err = filepath.WalkDir(path, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if ext := filepath.Ext(p); ext == ".yaml" || ext == ".yml" {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan scenarios: %w", err)
	}
	sort.Strings(files)
	return files, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	for i, step := range s.Steps {
		if err := validateStep(i, &step); err != nil {
			return err
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}

	return nil
}

func validateStep(index int, s *Step) error {
	if s.Op == "" {
		return fmt.Errorf("steps[%d]: op is required", index)
	}
	if !knownOps[s.Op] {
		return fmt.Errorf("steps[%d]: unknown op %q", index, s.Op)
	}

	switch s.Op {
	case OpAdvance:
		if s.Args.Seconds < 0 {
			return fmt.Errorf("steps[%d]: seconds must be non-negative", index)
		}
	case OpInitPreAuthorization:
		n := 0
		if s.Args.OneTime != nil {
			n++
		}
		if s.Args.Recurring != nil {
			n++
		}
		if s.Args.Policy != "" {
			n++
		}
		if n != 1 {
			return fmt.Errorf("steps[%d]: exactly one of one_time, recurring or policy is required", index)
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertBalance, AssertLamports:
		if a.Account == "" || a.Amount == nil {
			return fmt.Errorf("assertions[%d]: account and amount are required for %s", index, a.Type)
		}
	case AssertDelegated:
		if a.TokenAccount == "" || a.Delegated == nil {
			return fmt.Errorf("assertions[%d]: token_account and delegated are required for delegated", index)
		}
	case AssertPreAuthorization:
		if a.TokenAccount == "" || a.DebitAuthority == "" {
			return fmt.Errorf("assertions[%d]: token_account and debit_authority are required for pre_authorization", index)
		}
	case AssertMaxDebit:
		if a.TokenAccount == "" || a.DebitAuthority == "" || a.Amount == nil {
			return fmt.Errorf("assertions[%d]: token_account, debit_authority and amount are required for max_debit", index)
		}
	case AssertEventCount:
		if a.Kind == "" || a.Count == nil {
			return fmt.Errorf("assertions[%d]: kind and count are required for event_count", index)
		}
		if *a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for event_count", index)
		}
	case AssertEventOrder:
		if len(a.Kinds) == 0 {
			return fmt.Errorf("assertions[%d]: kinds list is required for event_order", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}
