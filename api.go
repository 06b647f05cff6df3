// Package zklisp evaluates programs of a small content-addressed Lisp and
// proves the evaluations: the reducer records a frame trace, the uniform
// step circuit replays it in fixed-size batches, and a folding accumulator
// compresses all batches into one verifiable artifact.
package zklisp

import (
	"context"

	"github.com/zklisp/zklisp/eval"
	"github.com/zklisp/zklisp/prove"
	"github.com/zklisp/zklisp/store"
)

// Session owns a value store and the public parameters for one
// multi-frame size. Programs are built against Store, proved with
// EvalAndProve, and checked with Verify.
type Session struct {
	Store  *store.Store
	Params *prove.PublicParams

	cfg prove.Config
}

// NewSession resolves parameters for the configuration through the cache
// and returns a session with a fresh store.
func NewSession(cfg prove.Config, cache *prove.ParamCache) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	params, err := cache.Get(cfg.F)
	if err != nil {
		return nil, err
	}
	return &Session{
		Store:  store.New(),
		Params: params,
		cfg:    cfg,
	}, nil
}

// EvalAndProve evaluates the interned expression and proves the complete
// trace.
func (s *Session) EvalAndProve(ctx context.Context, expr store.Ptr) (*prove.Proof, *eval.Result, error) {
	p, err := prove.NewProver(s.cfg, s.Params)
	if err != nil {
		return nil, nil, err
	}
	return p.Prove(ctx, s.Store, expr)
}

// Verify checks a proof against this session's parameters.
func (s *Session) Verify(proof *prove.Proof) error {
	return prove.Verify(s.Params, proof)
}
