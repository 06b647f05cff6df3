package circuit

import (
	"errors"
	"fmt"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/gnark/frontend"

	"github.com/zklisp/zklisp/eval"
	"github.com/zklisp/zklisp/store"
)

var (
	// ErrEmptyTrace is returned when a trace with no frames is batched.
	ErrEmptyTrace = errors.New("circuit: empty frame trace")

	// ErrBrokenTrace is returned when consecutive frames do not chain.
	ErrBrokenTrace = errors.New("circuit: frame outputs do not chain")

	// ErrUnhalted is returned when a trace needing padding does not end in
	// a halted state; only halted states step to themselves.
	ErrUnhalted = errors.New("circuit: trace does not end in a halted state")
)

// StepCircuit proves a fixed number of consecutive reduction steps. The
// boundary states are public; everything between them, including which
// rules fired, is witness. All instances of the same size share one
// compiled shape.
type StepCircuit struct {
	In  [store.StateWidth]frontend.Variable `gnark:",public"`
	Out [store.StateWidth]frontend.Variable `gnark:",public"`

	Frames []FrameWitness
}

// NewStepCircuit returns the shape for multi-frames of the given size.
func NewStepCircuit(f int) *StepCircuit {
	return &StepCircuit{Frames: make([]FrameWitness, f)}
}

func (c *StepCircuit) Define(api frontend.API) error {
	// the language constants are embedded at synthesis time, never part of
	// the witness schema
	g := NewGlobals()
	st := stateVarsFromSlice(c.In)
	for i := range c.Frames {
		next, err := synthesizeStep(api, g, st, &c.Frames[i])
		if err != nil {
			return err
		}
		st = next
	}
	out := st.slice()
	for i := range out {
		api.AssertIsEqual(out[i], c.Out[i])
	}
	return nil
}

// MultiFrame is one fixed-size batch of consecutive frames, the unit the
// folding prover consumes. The last batch of a trace is padded up to size
// by repeating the final halted frame.
type MultiFrame struct {
	Input  store.State
	Output store.State
	Frames []eval.Frame

	// Steps counts the frames doing real work; Frames[Steps:] is padding.
	Steps int
}

// FromFrames batches a chained trace into ceil(len(frames)/f) multi-frames
// of exactly f frames each.
func FromFrames(frames []eval.Frame, f int) ([]MultiFrame, error) {
	if f <= 0 {
		return nil, fmt.Errorf("circuit: multi-frame size must be positive, got %d", f)
	}
	if len(frames) == 0 {
		return nil, ErrEmptyTrace
	}
	for i := 1; i < len(frames); i++ {
		if !frames[i-1].Output.Equal(frames[i].Input) {
			return nil, fmt.Errorf("%w: frame %d", ErrBrokenTrace, i)
		}
	}
	final := frames[len(frames)-1].Output
	if len(frames)%f != 0 && !eval.Halted(final) {
		return nil, ErrUnhalted
	}

	out := make([]MultiFrame, 0, (len(frames)+f-1)/f)
	for start := 0; start < len(frames); start += f {
		end := start + f
		if end > len(frames) {
			end = len(frames)
		}
		chunk := make([]eval.Frame, 0, f)
		chunk = append(chunk, frames[start:end]...)
		steps := len(chunk)
		for len(chunk) < f {
			chunk = append(chunk, eval.Blank(final))
		}
		out = append(out, MultiFrame{
			Input:  chunk[0].Input,
			Output: chunk[f-1].Output,
			Frames: chunk,
			Steps:  steps,
		})
	}
	return out, nil
}

// Precedes reports whether n continues this multi-frame's trace.
func (m *MultiFrame) Precedes(n *MultiFrame) bool {
	return m.Output.Equal(n.Input)
}

// PaddingCount returns how many padding frames batching an n-step trace
// into multi-frames of size f appends.
func PaddingCount(n, f int) int {
	if n <= 0 || f <= 0 {
		return 0
	}
	if r := n % f; r != 0 {
		return f - r
	}
	return 0
}

// Assignment builds the full witness assignment for this multi-frame,
// resolving every hash opening against the store the trace was produced
// in.
func (m *MultiFrame) Assignment(s *store.Store) (*StepCircuit, error) {
	c := &StepCircuit{Frames: make([]FrameWitness, len(m.Frames))}
	for i := range m.Frames {
		fw, err := assignFrame(s, m.Frames[i])
		if err != nil {
			return nil, fmt.Errorf("circuit: frame %d: %w", i, err)
		}
		c.Frames[i] = fw
	}
	c.In = StateAssignment(m.Input)
	c.Out = StateAssignment(m.Output)
	return c, nil
}

// spineLens is how many argument-list elements each form rule opens.
var spineLens = map[eval.ExprRule]int{
	eval.ExprQuote:   1,
	eval.ExprEmit:    1,
	eval.ExprLambda:  2,
	eval.ExprLet:     2,
	eval.ExprLetBare: 2,
	eval.ExprBinop:   2,
	eval.ExprIf:      3,
}

// assignFrame fills one frame's witness slots. Slots the active rule does
// not constrain stay zero.
func assignFrame(s *store.Store, f eval.Frame) (FrameWitness, error) {
	w := f.Witness
	var a FrameWitness

	for i := range a.ExprSel {
		a.ExprSel[i] = 0
	}
	for i := range a.ContSel {
		a.ContSel[i] = 0
	}
	a.ExprSel[w.ExprRule] = 1
	a.ContSel[w.ContRule] = 1

	a.Head, a.Rest = NewPtrVar(w.Head), NewPtrVar(w.Rest)
	for i := range w.Form {
		a.Form[i] = NewPtrVar(w.Form[i])
	}
	for i := range w.Cont {
		a.Cont[i] = NewPtrVar(w.Cont[i])
	}
	a.Val = NewPtrVar(w.Val)
	a.FunParams, a.FunBody, a.FunEnv = NewPtrVar(w.FunParams), NewPtrVar(w.FunBody), NewPtrVar(w.FunEnv)
	a.ParamHead, a.ParamRest = NewPtrVar(w.ParamHead), NewPtrVar(w.ParamRest)
	a.ArgHead, a.ArgRest = NewPtrVar(w.ArgHead), NewPtrVar(w.ArgRest)
	a.A, a.B, a.Res = NewPtrVar(w.A), NewPtrVar(w.B), NewPtrVar(w.Res)
	a.ErrCode = uint64(w.ErrCode)
	a.DivInv = 0
	a.NeqInv = 0

	a.SpineA, a.SpineB, a.SpineC = zeroPtrVar(), zeroPtrVar(), zeroPtrVar()
	a.BindFirst, a.BindRest, a.BindSpine = zeroPtrVar(), zeroPtrVar(), zeroPtrVar()
	a.BindSym, a.BindTail = zeroPtrVar(), zeroPtrVar()
	a.LookSym = zeroPtrVar()
	for i := range a.NewCont {
		a.NewCont[i] = zeroPtrVar()
	}

	// argument-list spine for the form rules
	if n := spineLens[w.ExprRule]; n > 0 {
		sp, err := s.Cdr(w.Rest)
		if err != nil {
			return a, err
		}
		a.SpineA = NewPtrVar(sp)
		if n > 1 {
			if sp, err = s.Cdr(sp); err != nil {
				return a, err
			}
			a.SpineB = NewPtrVar(sp)
		}
		if n > 2 {
			if sp, err = s.Cdr(sp); err != nil {
				return a, err
			}
			a.SpineC = NewPtrVar(sp)
		}
	}

	// leading environment binding for the lookup rules
	switch w.ExprRule {
	case eval.ExprLookup, eval.ExprLookupNext:
		bound, err := s.Car(w.Head)
		if err != nil {
			return a, err
		}
		a.LookSym = NewPtrVar(bound)
		if w.ExprRule == eval.ExprLookupNext {
			v, err := s.Cdr(w.Head)
			if err != nil {
				return a, err
			}
			a.Val = NewPtrVar(v)
			diff := bound.Val
			diff.Sub(&diff, &f.Input.Expr.Val)
			diff.Inverse(&diff)
			a.NeqInv = elemToVar(diff)
		}
	}

	// first-binding opening for the let rules
	switch {
	case w.ExprRule == eval.ExprLet:
		if err := openBindings(s, w.Form[0], &a); err != nil {
			return a, err
		}
	case w.ContRule == eval.ContLetMore:
		if err := openBindings(s, w.Cont[1], &a); err != nil {
			return a, err
		}
	}

	// environment extension sources
	switch w.ContRule {
	case eval.ContCall2Body, eval.ContCall2Chain, eval.ContCall2More, eval.ContCall2Partial:
		a.BindSym, a.BindTail = NewPtrVar(w.ParamHead), NewPtrVar(w.FunEnv)
	case eval.ContLetBody, eval.ContLetMore:
		a.BindSym, a.BindTail = NewPtrVar(w.Cont[0]), NewPtrVar(w.Cont[3])
	case eval.ContDiv:
		inv := w.B.Val
		inv.Inverse(&inv)
		a.DivInv = elemToVar(inv)
	case eval.ContCallNotFun:
		var diff fr.Element
		diff.SetInt64(int64(w.Val.Tag) - int64(store.TagFun))
		diff.Inverse(&diff)
		a.NeqInv = elemToVar(diff)
	}

	if pushesCont(w) {
		kc, err := s.ContChildren(f.Output.Cont)
		if err != nil {
			return a, err
		}
		for i := range kc {
			a.NewCont[i] = NewPtrVar(kc[i])
		}
	}
	return a, nil
}

// pushesCont reports whether the step constructed a new continuation, in
// which case the output continuation's children are part of the witness.
func pushesCont(w eval.StepWitness) bool {
	switch w.ExprRule {
	case eval.ExprLet, eval.ExprIf, eval.ExprBinop, eval.ExprEmit, eval.ExprCall:
		return true
	}
	switch w.ContRule {
	case eval.ContCallFun, eval.ContCall2Chain, eval.ContCall2More,
		eval.ContLetMore, eval.ContBinop1:
		return true
	}
	return false
}

func openBindings(s *store.Store, bindings store.Ptr, a *FrameWitness) error {
	first, err := s.Car(bindings)
	if err != nil {
		return err
	}
	rest, err := s.Cdr(bindings)
	if err != nil {
		return err
	}
	spine, err := s.Cdr(first)
	if err != nil {
		return err
	}
	a.BindFirst, a.BindRest, a.BindSpine = NewPtrVar(first), NewPtrVar(rest), NewPtrVar(spine)
	return nil
}
