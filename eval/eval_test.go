package eval

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zklisp/zklisp/store"
)

func run(t *testing.T, build func(s *store.Store) store.Ptr) *Result {
	t.Helper()
	s := store.New()
	m := NewMachine(s)
	res, err := m.Evaluate(build(s), 1000)
	require.NoError(t, err)
	return res
}

func TestAddTwoNumbers(t *testing.T) {
	res := run(t, func(s *store.Store) store.Ptr {
		return s.List(s.Sym("+"), s.Num(1), s.Num(2))
	})

	v, ok := res.Value()
	require.True(t, ok)
	require.Equal(t, store.TagNum, v.Tag)
	require.Equal(t, uint64(3), v.Val.Uint64())
	require.Len(t, res.Frames, 4)
}

func TestArithmetic(t *testing.T) {
	cases := []struct {
		op   string
		a, b uint64
		want uint64
	}{
		{"+", 40, 2, 42},
		{"-", 50, 8, 42},
		{"*", 6, 7, 42},
		{"/", 84, 2, 42},
	}
	for _, tc := range cases {
		t.Run(tc.op, func(t *testing.T) {
			res := run(t, func(s *store.Store) store.Ptr {
				return s.List(s.Sym(tc.op), s.Num(tc.a), s.Num(tc.b))
			})
			v, ok := res.Value()
			require.True(t, ok)
			require.Equal(t, tc.want, v.Val.Uint64())
		})
	}
}

func TestComparisons(t *testing.T) {
	res := run(t, func(s *store.Store) store.Ptr {
		return s.List(s.Sym("="), s.Num(3), s.Num(3))
	})
	v, ok := res.Value()
	require.True(t, ok)
	require.True(t, v.Equal(store.New().Bool(true)))

	res = run(t, func(s *store.Store) store.Ptr {
		return s.List(s.Sym("<"), s.Num(5), s.Num(3))
	})
	v, ok = res.Value()
	require.True(t, ok)
	require.True(t, v.Equal(store.New().Bool(false)))
}

func TestUnboundVariableIsData(t *testing.T) {
	res := run(t, func(s *store.Store) store.Ptr {
		return s.Sym("x")
	})

	_, ok := res.Value()
	require.False(t, ok, "an errored program has no value")

	code, errored := res.ErrorCode()
	require.True(t, errored)
	require.Equal(t, CodeUnboundVariable, code)
	require.Equal(t, store.TagErrorCont, res.Final.Cont.Tag)
}

func TestDivisionByZeroIsData(t *testing.T) {
	res := run(t, func(s *store.Store) store.Ptr {
		return s.List(s.Sym("/"), s.Num(1), s.Num(0))
	})

	code, errored := res.ErrorCode()
	require.True(t, errored)
	require.Equal(t, CodeDivisionByZero, code)
}

func TestArithmeticTypeError(t *testing.T) {
	res := run(t, func(s *store.Store) store.Ptr {
		return s.List(s.Sym("+"), s.Num(1), s.Str("two"))
	})

	code, errored := res.ErrorCode()
	require.True(t, errored)
	require.Equal(t, CodeArithmeticType, code)
}

func TestLambdaApplication(t *testing.T) {
	res := run(t, func(s *store.Store) store.Ptr {
		lam := s.List(s.Sym("lambda"), s.List(s.Sym("x")),
			s.List(s.Sym("+"), s.Sym("x"), s.Num(1)))
		return s.List(lam, s.Num(41))
	})

	v, ok := res.Value()
	require.True(t, ok)
	require.Equal(t, uint64(42), v.Val.Uint64())
}

func TestCurriedApplication(t *testing.T) {
	// ((lambda (x y) (+ x y)) 1 2)
	res := run(t, func(s *store.Store) store.Ptr {
		lam := s.List(s.Sym("lambda"), s.List(s.Sym("x"), s.Sym("y")),
			s.List(s.Sym("+"), s.Sym("x"), s.Sym("y")))
		return s.List(lam, s.Num(1), s.Num(2))
	})
	v, ok := res.Value()
	require.True(t, ok)
	require.Equal(t, uint64(3), v.Val.Uint64())
}

func TestPartialApplication(t *testing.T) {
	// ((lambda (x y) (+ x y)) 1) evaluates to a closure
	res := run(t, func(s *store.Store) store.Ptr {
		lam := s.List(s.Sym("lambda"), s.List(s.Sym("x"), s.Sym("y")),
			s.List(s.Sym("+"), s.Sym("x"), s.Sym("y")))
		return s.List(lam, s.Num(1))
	})
	v, ok := res.Value()
	require.True(t, ok)
	require.Equal(t, store.TagFun, v.Tag)
}

func TestLetSequentialBindings(t *testing.T) {
	// (let ((a 1) (b (+ a 1))) (+ a b)) -> 3; later bindings see earlier ones
	res := run(t, func(s *store.Store) store.Ptr {
		bindings := s.List(
			s.List(s.Sym("a"), s.Num(1)),
			s.List(s.Sym("b"), s.List(s.Sym("+"), s.Sym("a"), s.Num(1))),
		)
		return s.List(s.Sym("let"), bindings, s.List(s.Sym("+"), s.Sym("a"), s.Sym("b")))
	})
	v, ok := res.Value()
	require.True(t, ok)
	require.Equal(t, uint64(3), v.Val.Uint64())
}

func TestLetShadowing(t *testing.T) {
	res := run(t, func(s *store.Store) store.Ptr {
		bindings := s.List(
			s.List(s.Sym("a"), s.Num(1)),
			s.List(s.Sym("a"), s.Num(2)),
		)
		return s.List(s.Sym("let"), bindings, s.Sym("a"))
	})
	v, ok := res.Value()
	require.True(t, ok)
	require.Equal(t, uint64(2), v.Val.Uint64())
}

func TestLookupWalksOneBindingPerStep(t *testing.T) {
	// resolving a under ((b . 2) (a . 1)) drops the b binding first
	res := run(t, func(s *store.Store) store.Ptr {
		bindings := s.List(
			s.List(s.Sym("a"), s.Num(1)),
			s.List(s.Sym("b"), s.Num(2)),
		)
		return s.List(s.Sym("let"), bindings, s.Sym("a"))
	})
	v, ok := res.Value()
	require.True(t, ok)
	require.Equal(t, uint64(1), v.Val.Uint64())

	var misses, hits int
	for _, f := range res.Frames {
		switch f.Witness.ExprRule {
		case ExprLookupNext:
			misses++
		case ExprLookup:
			hits++
		}
	}
	require.Equal(t, 1, misses)
	require.Equal(t, 1, hits)
}

func TestTooManyArguments(t *testing.T) {
	res := run(t, func(s *store.Store) store.Ptr {
		lam := s.List(s.Sym("lambda"), s.Nil(), s.Num(1))
		return s.List(lam, s.Num(2))
	})
	code, errored := res.ErrorCode()
	require.True(t, errored)
	require.Equal(t, CodeTooManyArgs, code)
}

func TestIfBranches(t *testing.T) {
	res := run(t, func(s *store.Store) store.Ptr {
		return s.List(s.Sym("if"), s.List(s.Sym("="), s.Num(1), s.Num(1)), s.Num(10), s.Num(20))
	})
	v, ok := res.Value()
	require.True(t, ok)
	require.Equal(t, uint64(10), v.Val.Uint64())

	res = run(t, func(s *store.Store) store.Ptr {
		return s.List(s.Sym("if"), s.Nil(), s.Num(10), s.Num(20))
	})
	v, ok = res.Value()
	require.True(t, ok)
	require.Equal(t, uint64(20), v.Val.Uint64())
}

func TestQuote(t *testing.T) {
	res := run(t, func(s *store.Store) store.Ptr {
		return s.List(s.Sym("quote"), s.Sym("x"))
	})
	v, ok := res.Value()
	require.True(t, ok)
	require.Equal(t, store.TagSym, v.Tag)
}

func TestEmit(t *testing.T) {
	res := run(t, func(s *store.Store) store.Ptr {
		return s.List(s.Sym("emit"), s.List(s.Sym("+"), s.Num(1), s.Num(2)))
	})
	v, ok := res.Value()
	require.True(t, ok)
	require.Equal(t, uint64(3), v.Val.Uint64())
	require.Len(t, res.Emitted, 1)
	require.Equal(t, uint64(3), res.Emitted[0].Val.Uint64())
}

func TestApplyNonFunction(t *testing.T) {
	res := run(t, func(s *store.Store) store.Ptr {
		return s.List(s.Num(1), s.Num(2))
	})
	code, errored := res.ErrorCode()
	require.True(t, errored)
	require.Equal(t, CodeNotAFunction, code)
}

func TestMalformedForm(t *testing.T) {
	res := run(t, func(s *store.Store) store.Ptr {
		return s.List(s.Sym("lambda")) // missing params and body
	})
	code, errored := res.ErrorCode()
	require.True(t, errored)
	require.Equal(t, CodeMalformedForm, code)
}

func TestIterationBudget(t *testing.T) {
	s := store.New()
	m := NewMachine(s)

	// ((lambda (f) (f f)) (lambda (f) (f f))) loops forever
	omega := s.List(s.Sym("lambda"), s.List(s.Sym("f")),
		s.List(s.Sym("f"), s.Sym("f")))
	_, err := m.Evaluate(s.List(omega, omega), 100)
	require.ErrorIs(t, err, ErrIterationBudget)
}

func TestTraceChaining(t *testing.T) {
	res := run(t, func(s *store.Store) store.Ptr {
		lam := s.List(s.Sym("lambda"), s.List(s.Sym("x")),
			s.List(s.Sym("*"), s.Sym("x"), s.Sym("x")))
		return s.List(lam, s.List(s.Sym("+"), s.Num(2), s.Num(3)))
	})

	for i := 1; i < len(res.Frames); i++ {
		require.True(t, res.Frames[i-1].Output.Equal(res.Frames[i].Input),
			"frame %d output must equal frame %d input", i-1, i)
	}
	require.True(t, res.Frames[len(res.Frames)-1].Output.Equal(res.Final))
}

func TestDeterministicTraces(t *testing.T) {
	trace := func() ([]Frame, store.State) {
		s := store.New()
		m := NewMachine(s)
		lam := s.List(s.Sym("lambda"), s.List(s.Sym("x")),
			s.List(s.Sym("+"), s.Sym("x"), s.Num(1)))
		res, err := m.Evaluate(s.List(lam, s.Num(41)), 1000)
		require.NoError(t, err)
		return res.Frames, res.Final
	}

	f1, final1 := trace()
	f2, final2 := trace()
	require.Equal(t, len(f1), len(f2))
	for i := range f1 {
		require.True(t, f1[i].Input.Equal(f2[i].Input))
		require.True(t, f1[i].Output.Equal(f2[i].Output))
	}
	require.Equal(t, final1.Digest(), final2.Digest(),
		"identical programs in fresh stores yield identical boundary digests")
}

func TestHaltedStatesStepToThemselves(t *testing.T) {
	s := store.New()
	m := NewMachine(s)

	res, err := m.Evaluate(s.Num(7), 10)
	require.NoError(t, err)

	next, w, err := m.Step(res.Final)
	require.NoError(t, err)
	require.True(t, next.Equal(res.Final))
	require.Equal(t, ExprHalted, w.ExprRule)
}

func TestTotalityOverExprTags(t *testing.T) {
	// every expression tag in a value position has a defined transition
	s := store.New()
	m := NewMachine(s)

	exprs := []store.Ptr{
		s.Nil(), s.Num(1), s.Sym("unbound"), s.Str("s"), s.Char('c'),
		s.Bool(true), s.Fun(s.Nil(), s.Num(1), s.Nil()),
		s.Thunk(s.Num(1)), s.Cons(s.Num(1), s.Nil()),
	}
	for _, e := range exprs {
		st := m.InitialState(e)
		for i := 0; i < 5 && !Halted(st); i++ {
			var err error
			st, _, err = m.Step(st)
			require.NoError(t, err, "expr tag %s must reduce without native fault", e.Tag)
		}
	}
}
