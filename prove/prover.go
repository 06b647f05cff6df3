package prove

import (
	"context"
	"errors"
	"fmt"
	"runtime"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	cs "github.com/consensys/gnark/constraint/bn254"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/logger"
	"golang.org/x/sync/errgroup"

	"github.com/zklisp/zklisp/circuit"
	"github.com/zklisp/zklisp/eval"
	"github.com/zklisp/zklisp/nova"
	"github.com/zklisp/zklisp/store"
)

const (
	// DefaultF is the default number of reduction steps per multi-frame.
	DefaultF = 10

	// DefaultLimit is the default evaluation budget in reduction steps.
	DefaultLimit = 10000
)

var (
	// ErrChainMismatch is returned when multi-frame boundaries do not
	// chain into one contiguous trace.
	ErrChainMismatch = errors.New("prove: multi-frame boundaries do not chain")

	// ErrBoundaryMismatch is returned when a proof does not bind the
	// claimed input and output states.
	ErrBoundaryMismatch = errors.New("prove: proof does not bind the claimed states")
)

// Config controls a proving session.
type Config struct {
	// F is the number of reduction steps batched per multi-frame. It must
	// match the public parameters.
	F int

	// Limit bounds evaluation; exceeding it aborts with
	// eval.ErrIterationBudget before any proving work.
	Limit int

	// Workers bounds parallel witness synthesis. Zero means GOMAXPROCS.
	Workers int
}

// DefaultConfig returns the defaults.
func DefaultConfig() Config {
	return Config{F: DefaultF, Limit: DefaultLimit}
}

func (c *Config) Validate() error {
	if c.F <= 0 {
		return fmt.Errorf("prove: config F must be positive, got %d", c.F)
	}
	if c.Limit <= 0 {
		return fmt.Errorf("prove: config Limit must be positive, got %d", c.Limit)
	}
	if c.Workers < 0 {
		return fmt.Errorf("prove: config Workers must not be negative, got %d", c.Workers)
	}
	return nil
}

// Proof binds a compressed accumulator to the evaluation claim it proves:
// the program state it started from and the halted state it reached.
type Proof struct {
	Nova *nova.Proof

	F     int
	Steps int // real reduction steps; padding is on top of these

	Input  store.State
	Output store.State
}

// Prover runs the evaluate, batch, synthesize, fold pipeline.
type Prover struct {
	cfg    Config
	params *PublicParams
}

// NewProver validates the configuration against the parameters.
func NewProver(cfg Config, params *PublicParams) (*Prover, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if params.F != cfg.F {
		return nil, fmt.Errorf("prove: parameters compiled for F=%d, config wants F=%d", params.F, cfg.F)
	}
	return &Prover{cfg: cfg, params: params}, nil
}

// Prove evaluates the interned expression and produces a proof of the
// complete trace. Witness synthesis runs on a bounded worker pool; folding
// is strictly sequential in trace order. Any failure aborts the session,
// there are no partial proofs.
func (p *Prover) Prove(ctx context.Context, s *store.Store, expr store.Ptr) (*Proof, *eval.Result, error) {
	log := logger.Logger()

	m := eval.NewMachine(s)
	res, err := m.Evaluate(expr, p.cfg.Limit)
	if err != nil {
		return nil, nil, err
	}

	mfs, err := circuit.FromFrames(res.Frames, p.cfg.F)
	if err != nil {
		return nil, nil, err
	}

	// witness synthesis reads a hydrated snapshot of the trace, so it is
	// independent of anything interned into the caller's store afterwards
	snap := store.New()
	roots := make([]store.Ptr, 0, 6*len(res.Frames))
	for i := range res.Frames {
		in, out := res.Frames[i].Input, res.Frames[i].Output
		roots = append(roots, in.Expr, in.Env, in.Cont, out.Expr, out.Env, out.Cont)
	}
	if err := s.Hydrate(snap, roots...); err != nil {
		return nil, nil, err
	}

	type synthesized struct {
		x, w []fr.Element
	}
	sols := make([]synthesized, len(mfs))
	ready := make([]chan struct{}, len(mfs))
	for i := range ready {
		ready[i] = make(chan struct{})
	}
	nbPub := p.params.CCS.GetNbPublicVariables()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)
	workers := p.cfg.Workers
	if workers == 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	g.SetLimit(workers)
	for i := range mfs {
		i := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			asg, err := mfs[i].Assignment(snap)
			if err != nil {
				return err
			}
			wit, err := frontend.NewWitness(asg, ecc.BN254.ScalarField())
			if err != nil {
				return err
			}
			sol, err := p.params.CCS.Solve(wit)
			if err != nil {
				return fmt.Errorf("prove: multi-frame %d does not satisfy the step circuit: %w", i, err)
			}
			rsol, ok := sol.(*cs.R1CSSolution)
			if !ok {
				return nova.ErrUnsupportedSystem
			}
			full := rsol.W
			sols[i].x = append([]fr.Element(nil), full[1:nbPub]...)
			sols[i].w = append([]fr.Element(nil), full[nbPub:]...)
			close(ready[i])
			return nil
		})
	}

	// each multi-frame folds as soon as its witness arrives; synthesis of
	// later multi-frames overlaps with folding of earlier ones
	acc := nova.NewAccumulator(p.params.Shape, p.params.Key)
	foldOne := func(i int) error {
		if i > 0 && !mfs[i-1].Precedes(&mfs[i]) {
			return fmt.Errorf("%w: multi-frame %d", ErrChainMismatch, i)
		}
		inst, wit, err := nova.NewInstance(p.params.Shape, p.params.Key, sols[i].x, sols[i].w)
		if err != nil {
			return err
		}
		return acc.Fold(inst, wit)
	}
	for i := range mfs {
		select {
		case <-ready[i]:
		case <-gctx.Done():
			if err := g.Wait(); err != nil {
				return nil, nil, err
			}
			return nil, nil, gctx.Err()
		}
		if err := foldOne(i); err != nil {
			cancel()
			_ = g.Wait()
			return nil, nil, err
		}
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	np, err := acc.Compress()
	if err != nil {
		return nil, nil, err
	}

	log.Debug().Int("steps", len(res.Frames)).
		Int("multiFrames", len(mfs)).
		Int("padding", FramePaddingCount(len(res.Frames), p.cfg.F)).
		Msg("trace folded")

	return &Proof{
		Nova:   np,
		F:      p.cfg.F,
		Steps:  len(res.Frames),
		Input:  res.Frames[0].Input,
		Output: res.Final,
	}, res, nil
}

// FramePaddingCount reports how many padding frames proving an n-step
// trace at multi-frame size f appends.
func FramePaddingCount(n, f int) int {
	return circuit.PaddingCount(n, f)
}

// ExpectedTotalIterations is the padded step count the circuit actually
// proves for an n-step trace.
func ExpectedTotalIterations(n, f int) int {
	return n + circuit.PaddingCount(n, f)
}
