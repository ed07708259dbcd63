package engine

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/roach88/preauth/internal/address"
	"github.com/roach88/preauth/internal/ir"
	"github.com/roach88/preauth/internal/ledger"
	"github.com/roach88/preauth/internal/store"
)

// Dispatcher is the composition root for every externally visible operation.
//
// Each mutating operation runs inside one store transaction:
//
//  1. authenticate the caller and resolve records (read only)
//  2. decide and stage record writes
//  3. append the operation's event
//  4. submit the collected ledger instructions as one batch
//  5. commit
//
// Any failure before commit rolls the transaction back, so an operation
// either takes full effect or none. The caller's context can abort an
// operation up to step 4; from then on the operation runs to commit. The
// store serialises writers, so two operations on the same record never
// interleave.
//
// A Dispatcher is safe for concurrent use.
type Dispatcher struct {
	store     *store.Store
	ledger    ledger.Ledger
	clock     Clock
	ids       IDGenerator
	log       *zap.Logger
	programID address.Address
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithClock sets the time source. Default: SystemClock.
func WithClock(c Clock) Option {
	return func(d *Dispatcher) {
		d.clock = c
	}
}

// WithLogger sets the logger. Default: zap.NewNop().
func WithLogger(l *zap.Logger) Option {
	return func(d *Dispatcher) {
		d.log = l
	}
}

// WithProgramID sets the identity records are derived under.
// Default: address.DefaultProgramID.
func WithProgramID(id address.Address) Option {
	return func(d *Dispatcher) {
		d.programID = id
	}
}

// WithIDGenerator sets the operation ID generator. Default: UUIDv7Generator.
func WithIDGenerator(g IDGenerator) Option {
	return func(d *Dispatcher) {
		d.ids = g
	}
}

// New creates a Dispatcher over st and l.
func New(st *store.Store, l ledger.Ledger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		store:     st,
		ledger:    l,
		clock:     SystemClock{},
		ids:       UUIDv7Generator{},
		log:       zap.NewNop(),
		programID: address.DefaultProgramID,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// ProgramID returns the identity records are derived under.
func (d *Dispatcher) ProgramID() address.Address {
	return d.programID
}

// Now returns the dispatcher's current time.
func (d *Dispatcher) Now() int64 {
	return d.clock.Now()
}

// Result describes a committed operation.
type Result struct {
	OpID    string          `json:"op_id"`
	Address address.Address `json:"address"`
	Event   store.Event     `json:"event"`
}

// operation is the per-call state threaded through a mutating operation.
type operation struct {
	ctx    context.Context
	tx     *store.Tx
	name   string
	opID   string
	now    int64
	instrs []ledger.Instruction

	address      address.Address
	eventKind    string
	eventPayload ir.Object
	fields       []zap.Field
}

// stage queues ledger instructions for the batch submitted before commit.
func (op *operation) stage(instrs ...ledger.Instruction) {
	op.instrs = append(op.instrs, instrs...)
}

// emit records the event the operation produces on success.
func (op *operation) emit(addr address.Address, kind string, payload ir.Object) {
	op.address = addr
	op.eventKind = kind
	op.eventPayload = payload
}

// annotate adds log fields reported with the operation's outcome.
func (op *operation) annotate(fields ...zap.Field) {
	op.fields = append(op.fields, fields...)
}

// run executes fn as one atomic operation.
func (d *Dispatcher) run(ctx context.Context, name string, fn func(op *operation) error) (Result, error) {
	op := &operation{
		ctx:  ctx,
		name: name,
		opID: d.ids.Generate(),
		now:  d.clock.Now(),
	}
	log := d.log.With(zap.String("op", name), zap.String("op_id", op.opID))
	log.Debug("operation started", zap.Int64("now", op.now))

	// Cancellation is honoured only until the ledger batch runs. After funds
	// move, the record writes must commit even if the caller has gone away.
	txCtx := context.WithoutCancel(ctx)

	var res Result
	err := d.store.Atomic(txCtx, func(tx *store.Tx) error {
		op.tx = tx
		if err := fn(op); err != nil {
			return err
		}
		if op.eventKind == "" {
			return fmt.Errorf("%s: no event emitted", name)
		}

		ev, err := newEvent(op.eventKind, op.opID, op.now, op.address, op.eventPayload)
		if err != nil {
			return err
		}
		if ev.Seq, err = tx.AppendEvent(ev); err != nil {
			return err
		}

		if len(op.instrs) > 0 {
			if err := ctx.Err(); err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			if err := d.ledger.Execute(txCtx, op.instrs...); err != nil {
				return fmt.Errorf("%s: ledger: %w", name, err)
			}
		}

		res = Result{OpID: op.opID, Address: op.address, Event: ev}
		return nil
	})
	if err != nil {
		d.logFailure(log.With(op.fields...), err)
		return Result{}, err
	}

	log.Info("operation committed", append(op.fields,
		zap.Stringer("address", op.address),
		zap.String("event", op.eventKind),
		zap.Int64("seq", res.Event.Seq),
	)...)
	return res, nil
}

func (d *Dispatcher) logFailure(log *zap.Logger, err error) {
	var pe *ProgramError
	switch {
	case errors.As(err, &pe) && pe.Kind == KindInternal:
		log.Error("operation aborted", zap.String("code", string(pe.Code)), zap.Error(err))
	case errors.As(err, &pe):
		log.Info("operation rejected", zap.String("code", string(pe.Code)), zap.Error(err))
	default:
		log.Warn("operation failed", zap.Error(err))
	}
}

// requireSigner fails with code unless signer is in signers.
func requireSigner(signers []address.Address, signer address.Address, code Code) error {
	if !address.Contains(signers, signer) {
		return Errorf(code, "%s did not sign", signer)
	}
	return nil
}

// resolve derives the canonical address for seeds and checks it against an
// explicitly supplied address, if any.
func (d *Dispatcher) resolve(seeds [][]byte, explicit *address.Address) (address.Address, uint8, error) {
	addr, bump, err := address.FindProgramAddress(seeds, d.programID)
	if err != nil {
		return address.Address{}, 0, fmt.Errorf("derive address: %w", err)
	}
	if explicit != nil && *explicit != addr {
		return address.Address{}, 0, Errorf(CodeSeedsConstraintViolated,
			"address %s does not match derived address %s", *explicit, addr)
	}
	return addr, bump, nil
}

// checkBump rejects a stored record whose bump is not the canonical one.
func (d *Dispatcher) checkBump(seeds [][]byte, addr address.Address, bump uint8) error {
	if err := address.VerifyCanonical(seeds, d.programID, addr, bump); err != nil {
		if errors.Is(err, address.ErrNonCanonical) {
			return Errorf(CodeSeedsConstraintViolated, "%v", err)
		}
		return fmt.Errorf("verify address: %w", err)
	}
	return nil
}

// recordError maps store lookup failures onto program errors.
func recordError(err error, what string, addr address.Address) error {
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, store.ErrKindMismatch):
		return Errorf(CodeAccountNotInitialized, "%s %s not initialized", what, addr)
	case errors.Is(err, store.ErrAlreadyExists):
		return Errorf(CodeAccountAlreadyInitialized, "%s %s already initialized", what, addr)
	}
	return err
}

// tokenAccount reads a token account from the ledger.
func (d *Dispatcher) tokenAccount(ctx context.Context, addr address.Address) (ledger.TokenAccount, error) {
	acct, err := d.ledger.TokenAccount(ctx, addr)
	if errors.Is(err, ledger.ErrAccountNotFound) {
		return ledger.TokenAccount{}, Errorf(CodeAccountNotInitialized, "token account %s not initialized", addr)
	}
	if err != nil {
		return ledger.TokenAccount{}, fmt.Errorf("read token account %s: %w", addr, err)
	}
	return acct, nil
}

// mint reads a mint from the ledger.
func (d *Dispatcher) mint(ctx context.Context, addr address.Address) (ledger.Mint, error) {
	m, err := d.ledger.Mint(ctx, addr)
	if errors.Is(err, ledger.ErrMintNotFound) {
		return ledger.Mint{}, Errorf(CodeAccountNotInitialized, "mint %s not initialized", addr)
	}
	if err != nil {
		return ledger.Mint{}, fmt.Errorf("read mint %s: %w", addr, err)
	}
	return m, nil
}

// requireHolder checks that holder signed and owns tokenAccount on the ledger.
// Returns the token account.
func (d *Dispatcher) requireHolder(ctx context.Context, signers []address.Address, holder, tokenAccount address.Address, code Code) (ledger.TokenAccount, error) {
	if err := requireSigner(signers, holder, code); err != nil {
		return ledger.TokenAccount{}, err
	}
	acct, err := d.tokenAccount(ctx, tokenAccount)
	if err != nil {
		return ledger.TokenAccount{}, err
	}
	if acct.Owner != holder {
		return ledger.TokenAccount{}, Errorf(code, "%s does not own token account %s", holder, tokenAccount)
	}
	return acct, nil
}
