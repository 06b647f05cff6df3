package circuit

import (
	"github.com/zklisp/zklisp/store"
)

// Globals holds the content-addressed constants the step gadget compares
// against: special-form symbol digests, operator digests, and the
// distinguished continuations. They are pure functions of the hash, not of
// any particular store instance, so they are computed once and embedded as
// circuit constants.
type Globals struct {
	Nil      PtrVar
	Terminal PtrVar

	SymQuote, SymLambda, SymLet, SymIf, SymEmit PtrVar
	OpAdd, OpSub, OpMul, OpDiv, OpEq, OpLess    PtrVar
}

// NewGlobals interns the language constants in a scratch store and embeds
// their pointers.
func NewGlobals() *Globals {
	s := store.New()
	return &Globals{
		Nil:       constPtr(s.Nil()),
		Terminal:  constPtr(s.Terminal()),
		SymQuote:  constPtr(s.Sym("quote")),
		SymLambda: constPtr(s.Sym("lambda")),
		SymLet:    constPtr(s.Sym("let")),
		SymIf:     constPtr(s.Sym("if")),
		SymEmit:   constPtr(s.Sym("emit")),
		OpAdd:     constPtr(s.Sym("+")),
		OpSub:     constPtr(s.Sym("-")),
		OpMul:     constPtr(s.Sym("*")),
		OpDiv:     constPtr(s.Sym("/")),
		OpEq:      constPtr(s.Sym("=")),
		OpLess:    constPtr(s.Sym("<")),
	}
}
