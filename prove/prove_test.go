package prove

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zklisp/zklisp/eval"
	"github.com/zklisp/zklisp/store"
)

// the compiled F=3 parameters are shared across tests; compilation is the
// expensive part
var (
	paramsOnce sync.Once
	paramsVal  *PublicParams
	paramsErr  error
)

func testParams(t *testing.T) *PublicParams {
	t.Helper()
	paramsOnce.Do(func() { paramsVal, paramsErr = Setup(3) })
	require.NoError(t, paramsErr)
	return paramsVal
}

func newTestProver(t *testing.T) *Prover {
	t.Helper()
	cfg := DefaultConfig()
	cfg.F = 3
	p, err := NewProver(cfg, testParams(t))
	require.NoError(t, err)
	return p
}

func proveProgram(t *testing.T, build func(s *store.Store) store.Ptr) (*Proof, *eval.Result) {
	t.Helper()
	s := store.New()
	proof, res, err := newTestProver(t).Prove(context.Background(), s, build(s))
	require.NoError(t, err)
	return proof, res
}

func TestProveAndVerifyAddition(t *testing.T) {
	proof, res := proveProgram(t, func(s *store.Store) store.Ptr {
		return s.List(s.Sym("+"), s.Num(1), s.Num(2))
	})
	v, ok := res.Value()
	require.True(t, ok)
	require.Equal(t, uint64(3), v.Val.Uint64())

	// 4 frames at F=3: not a multiple, so the tail is padded
	require.Equal(t, 4, proof.Steps)
	require.Equal(t, 2, FramePaddingCount(proof.Steps, 3))
	require.Equal(t, 6, ExpectedTotalIterations(proof.Steps, 3))

	require.NoError(t, Verify(testParams(t), proof))
}

func TestProveAndVerifyScenarios(t *testing.T) {
	cases := []struct {
		name    string
		build   func(s *store.Store) store.Ptr
		value   uint64
		errCode eval.ErrCode
	}{
		{
			name: "lambda-application",
			build: func(s *store.Store) store.Ptr {
				lam := s.List(s.Sym("lambda"), s.List(s.Sym("x")),
					s.List(s.Sym("+"), s.Sym("x"), s.Num(1)))
				return s.List(lam, s.Num(41))
			},
			value: 42,
		},
		{
			name: "let-and-if",
			build: func(s *store.Store) store.Ptr {
				bindings := s.List(s.List(s.Sym("a"), s.Num(5)))
				body := s.List(s.Sym("if"), s.List(s.Sym("<"), s.Sym("a"), s.Num(10)),
					s.List(s.Sym("*"), s.Sym("a"), s.Num(2)),
					s.Num(0))
				return s.List(s.Sym("let"), bindings, body)
			},
			value: 10,
		},
		{
			name:    "unbound-variable",
			build:   func(s *store.Store) store.Ptr { return s.Sym("nope") },
			errCode: eval.CodeUnboundVariable,
		},
		{
			name: "division-by-zero",
			build: func(s *store.Store) store.Ptr {
				return s.List(s.Sym("/"), s.Num(1), s.Num(0))
			},
			errCode: eval.CodeDivisionByZero,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			proof, res := proveProgram(t, tc.build)
			if tc.errCode != 0 {
				code, errored := res.ErrorCode()
				require.True(t, errored)
				require.Equal(t, tc.errCode, code)
				require.Equal(t, store.TagErrorCont, proof.Output.Cont.Tag,
					"an errored program still halts in a provable state")
			} else {
				v, ok := res.Value()
				require.True(t, ok)
				require.Equal(t, tc.value, v.Val.Uint64())
			}
			require.NoError(t, Verify(testParams(t), proof))
		})
	}
}

func TestVerifyRejectsTamperedOutput(t *testing.T) {
	proof, _ := proveProgram(t, func(s *store.Store) store.Ptr {
		return s.List(s.Sym("+"), s.Num(1), s.Num(2))
	})
	proof.Output.Expr = store.New().Num(4)
	require.ErrorIs(t, Verify(testParams(t), proof), ErrBoundaryMismatch)
}

func TestVerifyRejectsStepMiscount(t *testing.T) {
	proof, _ := proveProgram(t, func(s *store.Store) store.Ptr {
		return s.List(s.Sym("+"), s.Num(1), s.Num(2))
	})
	proof.Steps--
	require.ErrorIs(t, Verify(testParams(t), proof), ErrBoundaryMismatch)
}

func TestProofBytesRoundTrip(t *testing.T) {
	proof, _ := proveProgram(t, func(s *store.Store) store.Ptr {
		return s.List(s.Sym("+"), s.Num(1), s.Num(2))
	})
	raw, err := proof.MarshalBinary()
	require.NoError(t, err)

	var back Proof
	require.NoError(t, back.UnmarshalBinary(raw))
	require.NoError(t, Verify(testParams(t), &back))

	corrupted := append([]byte(nil), raw...)
	corrupted[len(corrupted)/2] ^= 0x20
	var bad Proof
	if err := bad.UnmarshalBinary(corrupted); err == nil {
		require.Error(t, Verify(testParams(t), &bad))
	}
}

func TestParamCacheReuse(t *testing.T) {
	dir := t.TempDir()

	c := NewParamCache(dir)
	p1, err := c.Get(1)
	require.NoError(t, err)
	p2, err := c.Get(1)
	require.NoError(t, err)
	require.Same(t, p1, p2, "second lookup must hit the memory cache")

	// a fresh handle on the same directory loads from disk
	c2 := NewParamCache(dir)
	p3, err := c2.Get(1)
	require.NoError(t, err)
	require.Equal(t, p1.Shape.Digest(), p3.Shape.Digest(),
		"reloaded parameters must have the identical shape digest")
}

func TestConfigValidate(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
		ok   bool
	}{
		{"defaults", DefaultConfig(), true},
		{"zero-f", Config{Limit: 10}, false},
		{"zero-limit", Config{F: 10}, false},
		{"negative-workers", Config{F: 10, Limit: 10, Workers: -1}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.Validate()
			if tc.ok {
				require.NoError(t, err)
			} else {
				require.Error(t, err)
			}
		})
	}
}

func TestNewProverRejectsMismatchedF(t *testing.T) {
	cfg := DefaultConfig()
	cfg.F = 2
	_, err := NewProver(cfg, testParams(t))
	require.Error(t, err)
}

func TestProveHonorsCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := store.New()
	_, _, err := newTestProver(t).Prove(ctx, s, s.List(s.Sym("+"), s.Num(1), s.Num(2)))
	require.Error(t, err)
}

func TestProveHonorsIterationBudget(t *testing.T) {
	cfg := DefaultConfig()
	cfg.F = 3
	cfg.Limit = 10
	p, err := NewProver(cfg, testParams(t))
	require.NoError(t, err)

	s := store.New()
	omega := s.List(s.Sym("lambda"), s.List(s.Sym("f")),
		s.List(s.Sym("f"), s.Sym("f")))
	_, _, err = p.Prove(context.Background(), s, s.List(omega, omega))
	require.ErrorIs(t, err, eval.ErrIterationBudget)
}
