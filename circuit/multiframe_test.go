package circuit

import (
	"testing"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/test"
	"github.com/stretchr/testify/require"

	"github.com/zklisp/zklisp/eval"
	"github.com/zklisp/zklisp/store"
)

func trace(t *testing.T, build func(s *store.Store) store.Ptr) (*store.Store, *eval.Result) {
	t.Helper()
	s := store.New()
	m := eval.NewMachine(s)
	res, err := m.Evaluate(build(s), 1000)
	require.NoError(t, err)
	return s, res
}

// solveAll batches the trace and checks every multi-frame's assignment
// against the circuit with the test engine.
func solveAll(t *testing.T, s *store.Store, frames []eval.Frame, f int) {
	t.Helper()
	mfs, err := FromFrames(frames, f)
	require.NoError(t, err)
	for i := range mfs {
		asg, err := mfs[i].Assignment(s)
		require.NoError(t, err)
		err = test.IsSolved(NewStepCircuit(f), asg, ecc.BN254.ScalarField())
		require.NoError(t, err, "multi-frame %d must satisfy the step circuit", i)
	}
}

func TestFromFramesPadsToMultiple(t *testing.T) {
	_, res := trace(t, func(s *store.Store) store.Ptr {
		return s.List(s.Sym("+"), s.Num(1), s.Num(2))
	})
	require.Len(t, res.Frames, 4)

	mfs, err := FromFrames(res.Frames, 3)
	require.NoError(t, err)
	require.Len(t, mfs, 2)
	require.Equal(t, 3, mfs[0].Steps)
	require.Equal(t, 1, mfs[1].Steps)
	require.Equal(t, 2, PaddingCount(len(res.Frames), 3))

	// padding frames sit on the final halted state
	for _, pad := range mfs[1].Frames[1:] {
		require.True(t, pad.Input.Equal(res.Final))
		require.True(t, pad.Output.Equal(res.Final))
	}
	require.True(t, mfs[0].Precedes(&mfs[1]))
	require.True(t, mfs[1].Output.Equal(res.Final))
}

func TestFromFramesExactMultipleNeedsNoPadding(t *testing.T) {
	_, res := trace(t, func(s *store.Store) store.Ptr {
		return s.List(s.Sym("+"), s.Num(1), s.Num(2))
	})
	mfs, err := FromFrames(res.Frames, 2)
	require.NoError(t, err)
	require.Len(t, mfs, 2)
	for _, mf := range mfs {
		require.Equal(t, 2, mf.Steps)
	}
	require.Equal(t, 0, PaddingCount(len(res.Frames), 2))
}

func TestFromFramesRejectsBrokenChain(t *testing.T) {
	s, res := trace(t, func(s *store.Store) store.Ptr {
		return s.List(s.Sym("+"), s.Num(1), s.Num(2))
	})
	frames := append([]eval.Frame(nil), res.Frames...)
	frames[2].Input.Expr = s.Num(999)

	_, err := FromFrames(frames, 2)
	require.ErrorIs(t, err, ErrBrokenTrace)
}

func TestFromFramesRejectsEmptyAndBadSize(t *testing.T) {
	_, err := FromFrames(nil, 2)
	require.ErrorIs(t, err, ErrEmptyTrace)

	_, res := trace(t, func(s *store.Store) store.Ptr { return s.Num(1) })
	_, err = FromFrames(res.Frames, 0)
	require.Error(t, err)
}

func TestStepCircuitArithmetic(t *testing.T) {
	s, res := trace(t, func(s *store.Store) store.Ptr {
		return s.List(s.Sym("+"), s.Num(1), s.Num(2))
	})
	solveAll(t, s, res.Frames, 2)
}

func TestStepCircuitWithPadding(t *testing.T) {
	s, res := trace(t, func(s *store.Store) store.Ptr {
		return s.List(s.Sym("*"), s.Num(6), s.Num(7))
	})
	// frame count is not a multiple, so the tail is padded halted frames
	solveAll(t, s, res.Frames, 3)
}

func TestStepCircuitPrograms(t *testing.T) {
	cases := []struct {
		name  string
		build func(s *store.Store) store.Ptr
	}{
		{"self-evaluating", func(s *store.Store) store.Ptr { return s.Num(42) }},
		{"quote", func(s *store.Store) store.Ptr {
			return s.List(s.Sym("quote"), s.Sym("x"))
		}},
		{"division", func(s *store.Store) store.Ptr {
			return s.List(s.Sym("/"), s.Num(84), s.Num(2))
		}},
		{"comparison", func(s *store.Store) store.Ptr {
			return s.List(s.Sym("<"), s.Num(1), s.Num(2))
		}},
		{"if-true-branch", func(s *store.Store) store.Ptr {
			return s.List(s.Sym("if"), s.List(s.Sym("="), s.Num(1), s.Num(1)), s.Num(10), s.Num(20))
		}},
		{"if-false-branch", func(s *store.Store) store.Ptr {
			return s.List(s.Sym("if"), s.Nil(), s.Num(10), s.Num(20))
		}},
		{"lambda-application", func(s *store.Store) store.Ptr {
			lam := s.List(s.Sym("lambda"), s.List(s.Sym("x")),
				s.List(s.Sym("+"), s.Sym("x"), s.Num(1)))
			return s.List(lam, s.Num(41))
		}},
		{"curried-application", func(s *store.Store) store.Ptr {
			lam := s.List(s.Sym("lambda"), s.List(s.Sym("x"), s.Sym("y")),
				s.List(s.Sym("+"), s.Sym("x"), s.Sym("y")))
			return s.List(lam, s.Num(1), s.Num(2))
		}},
		{"partial-application", func(s *store.Store) store.Ptr {
			lam := s.List(s.Sym("lambda"), s.List(s.Sym("x"), s.Sym("y")),
				s.List(s.Sym("+"), s.Sym("x"), s.Sym("y")))
			return s.List(lam, s.Num(1))
		}},
		{"let-bindings", func(s *store.Store) store.Ptr {
			bindings := s.List(
				s.List(s.Sym("a"), s.Num(1)),
				s.List(s.Sym("b"), s.List(s.Sym("+"), s.Sym("a"), s.Num(1))),
			)
			return s.List(s.Sym("let"), bindings, s.List(s.Sym("+"), s.Sym("a"), s.Sym("b")))
		}},
		{"let-empty", func(s *store.Store) store.Ptr {
			return s.List(s.Sym("let"), s.Nil(), s.Num(7))
		}},
		{"shadowed-binding", func(s *store.Store) store.Ptr {
			bindings := s.List(
				s.List(s.Sym("a"), s.Num(1)),
				s.List(s.Sym("a"), s.Num(2)),
			)
			return s.List(s.Sym("let"), bindings, s.Sym("a"))
		}},
		{"deep-binding", func(s *store.Store) store.Ptr {
			bindings := s.List(
				s.List(s.Sym("a"), s.Num(1)),
				s.List(s.Sym("b"), s.Num(2)),
			)
			return s.List(s.Sym("let"), bindings, s.Sym("a"))
		}},
		{"too-many-arguments", func(s *store.Store) store.Ptr {
			lam := s.List(s.Sym("lambda"), s.Nil(), s.Num(1))
			return s.List(lam, s.Num(2))
		}},
		{"emit", func(s *store.Store) store.Ptr {
			return s.List(s.Sym("emit"), s.List(s.Sym("+"), s.Num(1), s.Num(2)))
		}},
		{"unbound-variable", func(s *store.Store) store.Ptr {
			return s.Sym("nope")
		}},
		{"division-by-zero", func(s *store.Store) store.Ptr {
			return s.List(s.Sym("/"), s.Num(1), s.Num(0))
		}},
		{"arithmetic-type-error", func(s *store.Store) store.Ptr {
			return s.List(s.Sym("+"), s.Num(1), s.Str("two"))
		}},
		{"apply-non-function", func(s *store.Store) store.Ptr {
			return s.List(s.Num(1), s.Num(2))
		}},
		{"malformed-lambda", func(s *store.Store) store.Ptr {
			return s.List(s.Sym("lambda"))
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s, res := trace(t, tc.build)
			solveAll(t, s, res.Frames, 3)
		})
	}
}

func TestStepCircuitRejectsTamperedBoundary(t *testing.T) {
	s, res := trace(t, func(s *store.Store) store.Ptr {
		return s.List(s.Sym("+"), s.Num(1), s.Num(2))
	})
	mfs, err := FromFrames(res.Frames, 4)
	require.NoError(t, err)
	require.Len(t, mfs, 1)

	asg, err := mfs[0].Assignment(s)
	require.NoError(t, err)

	// claim a different final value
	forged := res.Final
	forged.Expr = s.Num(4)
	asg.Out = StateAssignment(forged)

	err = test.IsSolved(NewStepCircuit(4), asg, ecc.BN254.ScalarField())
	require.Error(t, err, "a forged output boundary must not satisfy the circuit")
}

func TestStepCircuitRejectsForgedLookup(t *testing.T) {
	s, res := trace(t, func(s *store.Store) store.Ptr {
		lam := s.List(s.Sym("lambda"), s.List(s.Sym("a")), s.Sym("a"))
		return s.List(lam, s.Num(7))
	})
	mfs, err := FromFrames(res.Frames, 1)
	require.NoError(t, err)

	idx := -1
	for i := range res.Frames {
		if res.Frames[i].Witness.ExprRule == eval.ExprLookup {
			idx = i
		}
	}
	require.NotEqual(t, -1, idx, "trace must contain a lookup step")

	asg, err := mfs[idx].Assignment(s)
	require.NoError(t, err)

	// claim the binding held 8 instead of 7
	forgedVal := s.Num(8)
	asg.Frames[0].Val = NewPtrVar(forgedVal)
	forged := res.Frames[idx].Output
	forged.Expr = forgedVal
	asg.Out = StateAssignment(forged)

	err = test.IsSolved(NewStepCircuit(1), asg, ecc.BN254.ScalarField())
	require.Error(t, err, "a forged lookup value must not satisfy the circuit")
}

func TestStepCircuitRejectsWrongSelector(t *testing.T) {
	s, res := trace(t, func(s *store.Store) store.Ptr {
		return s.List(s.Sym("+"), s.Num(1), s.Num(2))
	})
	mfs, err := FromFrames(res.Frames, 4)
	require.NoError(t, err)

	asg, err := mfs[0].Assignment(s)
	require.NoError(t, err)

	// swap the first frame's rule claim
	asg.Frames[0].ExprSel[eval.ExprBinop] = 0
	asg.Frames[0].ExprSel[eval.ExprQuote] = 1

	err = test.IsSolved(NewStepCircuit(4), asg, ecc.BN254.ScalarField())
	require.Error(t, err, "a misclaimed rule selector must not satisfy the circuit")
}
