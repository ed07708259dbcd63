package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/roach88/preauth/internal/store"
)

// EventsOptions holds flags for the events command.
type EventsOptions struct {
	*RootOptions
	After   int64
	Limit   int
	Address string
}

// EventList is the output of the events command.
type EventList struct {
	Events []store.Event `json:"events"`
}

// Text renders one line per event.
func (l EventList) Text() string {
	if len(l.Events) == 0 {
		return "No events.\n"
	}
	var b strings.Builder
	for _, e := range l.Events {
		ts := time.Unix(e.UnixTimestamp, 0).UTC().Format(time.RFC3339)
		fmt.Fprintf(&b, "%6d  %s  %-34s %s  %s\n", e.Seq, ts, e.Kind, e.Address, e.Payload)
	}
	return b.String()
}

// NewEventsCommand creates the events command.
func NewEventsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &EventsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "events",
		Short: "Print the event log",
		Long: `Print events from the append-only log in sequence order.

Examples:
  preauth events --db ./preauth.db
  preauth events --after 120 --limit 50
  preauth events --address 7Xg...Qm --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEvents(opts, cmd)
		},
	}

	cmd.Flags().Int64Var(&opts.After, "after", 0, "only events with a sequence number greater than this")
	cmd.Flags().IntVar(&opts.Limit, "limit", store.DefaultEventLimit, "maximum number of events")
	cmd.Flags().StringVar(&opts.Address, "address", "", "only events recorded against this address")

	return cmd
}

func runEvents(opts *EventsOptions, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	if opts.Limit <= 0 {
		return NewExitError(ExitCommandError, "--limit must be positive")
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

	var events []store.Event
	if opts.Address != "" {
		addr, err := parseAddressArg("address", opts.Address)
		if err != nil {
			return err
		}
		events, err = d.EventsFor(ctx, addr)
		if err != nil {
			return WrapExitError(ExitFailure, "failed to read events", err)
		}
	} else {
		events, err = d.Events(ctx, opts.After, opts.Limit)
		if err != nil {
			return WrapExitError(ExitFailure, "failed to read events", err)
		}
	}
	if events == nil {
		events = []store.Event{}
	}
	return formatter.Success(EventList{Events: events})
}
