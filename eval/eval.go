// Package eval implements the deterministic small-step reducer. Each step
// is a pure function of the state and store contents; the recorded frame
// trace is what the circuit layer replays under constraints.
package eval

import (
	"errors"
	"fmt"

	"github.com/consensys/gnark/logger"
	"github.com/rs/zerolog"

	"github.com/zklisp/zklisp/store"
)

func componentLogger() zerolog.Logger {
	return logger.Logger().With().Str("component", "eval").Logger()
}

// ErrIterationBudget reports that evaluation exceeded its step budget.
// This is a native control error, distinct from language-level errors,
// which halt the trace as data.
var ErrIterationBudget = errors.New("eval: iteration budget exceeded")

// Frame records one reduction step: input state, output state, and the
// auxiliary witness the circuit needs to replay the transition.
type Frame struct {
	Input   store.State
	Output  store.State
	Witness StepWitness
}

// Blank returns a padding frame fixed on the given halted state. Its input
// equals its output, so appending any number of them preserves the trace's
// chaining invariant.
func Blank(st store.State) Frame {
	return Frame{
		Input:   st,
		Output:  st,
		Witness: StepWitness{ExprRule: ExprHalted},
	}
}

// Result is the outcome of running a program to a halted state.
type Result struct {
	Frames  []Frame
	Final   store.State
	Emitted []store.Ptr
}

// Value returns the final value pointer when evaluation terminated
// normally, and reports whether it did. An errored program has no value;
// its final state carries the error continuation instead.
func (r *Result) Value() (store.Ptr, bool) {
	if r.Final.Cont.Tag != store.TagTerminalCont {
		return store.Ptr{}, false
	}
	return r.Final.Expr, true
}

// ErrorCode returns the language-level error the program halted with, if
// any.
func (r *Result) ErrorCode() (ErrCode, bool) {
	if r.Final.Cont.Tag != store.TagErrorCont {
		return 0, false
	}
	if len(r.Frames) == 0 {
		return 0, false
	}
	return r.Frames[len(r.Frames)-1].Witness.ErrCode, true
}

// Evaluate runs an interned expression to a terminal or error continuation
// within the iteration budget, recording the complete frame trace.
func (m *Machine) Evaluate(expr store.Ptr, limit int) (*Result, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("eval: iteration budget must be positive, got %d", limit)
	}
	log := componentLogger()

	st := m.InitialState(expr)
	res := &Result{}
	for i := 0; i < limit; i++ {
		if Halted(st) {
			res.Final = st
			log.Debug().Int("iterations", len(res.Frames)).
				Str("cont", st.Cont.Tag.String()).
				Msg("evaluation halted")
			return res, nil
		}
		next, w, err := m.Step(st)
		if err != nil {
			return nil, err
		}
		res.Frames = append(res.Frames, Frame{Input: st, Output: next, Witness: w})
		if w.Emitted != nil {
			res.Emitted = append(res.Emitted, *w.Emitted)
		}
		st = next
	}
	if Halted(st) {
		res.Final = st
		return res, nil
	}
	return nil, fmt.Errorf("%w: %d", ErrIterationBudget, limit)
}
