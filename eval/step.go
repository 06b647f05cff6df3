package eval

import (
	"github.com/zklisp/zklisp/store"
)

// Machine is the small-step reducer over a shared store. A step first
// reduces the control expression; if that yields a value, the continuation
// consumes it within the same step. Every reachable (expression tag,
// continuation tag) pair has a defined transition, possibly into an error
// continuation, so the trace is total.
type Machine struct {
	s *store.Store

	symQuote, symLambda, symLet, symIf, symEmit store.Ptr
	opAdd, opSub, opMul, opDiv, opEq, opLess    store.Ptr
}

// NewMachine interns the language's special-form symbols in the store and
// returns a reducer over it.
func NewMachine(s *store.Store) *Machine {
	return &Machine{
		s:         s,
		symQuote:  s.Sym("quote"),
		symLambda: s.Sym("lambda"),
		symLet:    s.Sym("let"),
		symIf:     s.Sym("if"),
		symEmit:   s.Sym("emit"),
		opAdd:     s.Sym("+"),
		opSub:     s.Sym("-"),
		opMul:     s.Sym("*"),
		opDiv:     s.Sym("/"),
		opEq:      s.Sym("="),
		opLess:    s.Sym("<"),
	}
}

// Store returns the machine's backing store.
func (m *Machine) Store() *store.Store { return m.s }

// InitialState places an expression in the empty environment under the
// outermost continuation.
func (m *Machine) InitialState(expr store.Ptr) store.State {
	return store.State{Expr: expr, Env: m.s.EmptyEnv(), Cont: m.s.Outermost()}
}

// Halted reports whether a state admits no further reduction. Halted
// states step to themselves, which is what padding frames rely on.
func Halted(st store.State) bool {
	return st.Cont.Tag == store.TagTerminalCont || st.Cont.Tag == store.TagErrorCont
}

func (m *Machine) isBinop(sym store.Ptr) bool {
	return sym.Equal(m.opAdd) || sym.Equal(m.opSub) || sym.Equal(m.opMul) ||
		sym.Equal(m.opDiv) || sym.Equal(m.opEq) || sym.Equal(m.opLess)
}

// errorState transitions into an error continuation carrying the code. The
// expression and environment are preserved so the erroring state remains
// inspectable and provable.
func (m *Machine) errorState(st store.State, code ErrCode, w *StepWitness) store.State {
	w.ErrCode = code
	return store.State{
		Expr: st.Expr,
		Env:  st.Env,
		Cont: m.s.ErrorCont(m.s.Num(uint64(code))),
	}
}

// Step performs one reduction. It returns the next state and the witness
// needed to replay the transition inside the step circuit. A native error
// is only returned for store-level faults (dangling pointers), never for
// language-level failures.
func (m *Machine) Step(st store.State) (store.State, StepWitness, error) {
	var w StepWitness

	if Halted(st) {
		w.ExprRule = ExprHalted
		return st, w, nil
	}

	switch st.Expr.Tag {
	case store.TagNil, store.TagNum, store.TagStr, store.TagChar, store.TagBool, store.TagFun:
		w.ExprRule = ExprSelf
		return m.applyCont(st, st.Expr, &w)

	case store.TagThunk:
		v, err := m.s.ThunkVal(st.Expr)
		if err != nil {
			return store.State{}, w, err
		}
		w.ExprRule = ExprThunk
		w.Head = v
		return m.applyCont(st, v, &w)

	case store.TagSym:
		// one binding is inspected per step; a miss drops it and leaves the
		// symbol in control over the shortened chain
		if st.Env.Tag == store.TagNil {
			w.ExprRule = ExprUnbound
			return m.errorState(st, CodeUnboundVariable, &w), w, nil
		}
		binding, err := m.s.Car(st.Env)
		if err != nil {
			return store.State{}, w, err
		}
		rest, err := m.s.Cdr(st.Env)
		if err != nil {
			return store.State{}, w, err
		}
		w.Head, w.Rest = binding, rest
		bound, err := m.s.Car(binding)
		if err != nil {
			return store.State{}, w, err
		}
		if bound.Equal(st.Expr) {
			v, err := m.s.Cdr(binding)
			if err != nil {
				return store.State{}, w, err
			}
			w.ExprRule = ExprLookup
			return m.applyCont(st, v, &w)
		}
		w.ExprRule = ExprLookupNext
		return store.State{Expr: st.Expr, Env: rest, Cont: st.Cont}, w, nil

	case store.TagCons:
		return m.reduceForm(st, &w)
	}

	// continuation tags can never occupy the expression position
	w.ExprRule = ExprError
	return m.errorState(st, CodeMalformedForm, &w), w, nil
}

// listParts opens up to n leading elements of a proper list, reporting
// whether the list had exactly n elements.
func (m *Machine) listParts(p store.Ptr, n int) ([]store.Ptr, bool, error) {
	out := make([]store.Ptr, 0, n)
	for i := 0; i < n; i++ {
		if p.Tag != store.TagCons {
			return out, false, nil
		}
		car, err := m.s.Car(p)
		if err != nil {
			return nil, false, err
		}
		out = append(out, car)
		p, err = m.s.Cdr(p)
		if err != nil {
			return nil, false, err
		}
	}
	return out, p.Tag == store.TagNil, nil
}

func (m *Machine) reduceForm(st store.State, w *StepWitness) (store.State, StepWitness, error) {
	head, err := m.s.Car(st.Expr)
	if err != nil {
		return store.State{}, *w, err
	}
	rest, err := m.s.Cdr(st.Expr)
	if err != nil {
		return store.State{}, *w, err
	}
	w.Head, w.Rest = head, rest

	if head.Tag == store.TagSym {
		switch {
		case head.Equal(m.symQuote):
			parts, exact, err := m.listParts(rest, 1)
			if err != nil {
				return store.State{}, *w, err
			}
			if !exact {
				w.ExprRule = ExprError
				return m.errorState(st, CodeMalformedForm, w), *w, nil
			}
			w.ExprRule = ExprQuote
			w.Form[0] = parts[0]
			return m.applyCont(st, parts[0], w)

		case head.Equal(m.symLambda):
			parts, exact, err := m.listParts(rest, 2)
			if err != nil {
				return store.State{}, *w, err
			}
			if !exact {
				w.ExprRule = ExprError
				return m.errorState(st, CodeMalformedForm, w), *w, nil
			}
			params, body := parts[0], parts[1]
			if params.Tag != store.TagNil && params.Tag != store.TagCons {
				w.ExprRule = ExprError
				return m.errorState(st, CodeMalformedForm, w), *w, nil
			}
			w.ExprRule = ExprLambda
			w.Form[0], w.Form[1] = params, body
			return m.applyCont(st, m.s.Fun(params, body, st.Env), w)

		case head.Equal(m.symLet):
			parts, exact, err := m.listParts(rest, 2)
			if err != nil {
				return store.State{}, *w, err
			}
			if !exact {
				w.ExprRule = ExprError
				return m.errorState(st, CodeMalformedForm, w), *w, nil
			}
			bindings, body := parts[0], parts[1]
			w.Form[0], w.Form[1] = bindings, body
			if bindings.Tag == store.TagNil {
				w.ExprRule = ExprLetBare
				return store.State{Expr: body, Env: st.Env, Cont: st.Cont}, *w, nil
			}
			if bindings.Tag != store.TagCons {
				w.ExprRule = ExprError
				return m.errorState(st, CodeMalformedForm, w), *w, nil
			}
			first, err := m.s.Car(bindings)
			if err != nil {
				return store.State{}, *w, err
			}
			restB, err := m.s.Cdr(bindings)
			if err != nil {
				return store.State{}, *w, err
			}
			bparts, exact, err := m.listParts(first, 2)
			if err != nil {
				return store.State{}, *w, err
			}
			if !exact || bparts[0].Tag != store.TagSym {
				w.ExprRule = ExprError
				return m.errorState(st, CodeMalformedForm, w), *w, nil
			}
			w.ExprRule = ExprLet
			w.Form[2], w.Form[3] = bparts[0], bparts[1]
			k := m.s.Cont(store.TagLetCont, bparts[0], restB, body, st.Env, st.Cont)
			return store.State{Expr: bparts[1], Env: st.Env, Cont: k}, *w, nil

		case head.Equal(m.symIf):
			parts, exact, err := m.listParts(rest, 3)
			if err != nil {
				return store.State{}, *w, err
			}
			if !exact {
				w.ExprRule = ExprError
				return m.errorState(st, CodeMalformedForm, w), *w, nil
			}
			w.ExprRule = ExprIf
			w.Form[0], w.Form[1], w.Form[2] = parts[0], parts[1], parts[2]
			k := m.s.Cont(store.TagIfCont, parts[1], parts[2], st.Env, st.Cont)
			return store.State{Expr: parts[0], Env: st.Env, Cont: k}, *w, nil

		case head.Equal(m.symEmit):
			parts, exact, err := m.listParts(rest, 1)
			if err != nil {
				return store.State{}, *w, err
			}
			if !exact {
				w.ExprRule = ExprError
				return m.errorState(st, CodeMalformedForm, w), *w, nil
			}
			w.ExprRule = ExprEmit
			w.Form[0] = parts[0]
			k := m.s.Cont(store.TagEmitCont, st.Cont)
			return store.State{Expr: parts[0], Env: st.Env, Cont: k}, *w, nil

		case m.isBinop(head):
			parts, exact, err := m.listParts(rest, 2)
			if err != nil {
				return store.State{}, *w, err
			}
			if !exact {
				w.ExprRule = ExprError
				return m.errorState(st, CodeMalformedForm, w), *w, nil
			}
			w.ExprRule = ExprBinop
			w.Form[0], w.Form[1] = parts[0], parts[1]
			k := m.s.Cont(store.TagBinop1Cont, head, parts[1], st.Env, st.Cont)
			return store.State{Expr: parts[0], Env: st.Env, Cont: k}, *w, nil
		}
	}

	// anything else is a function application: evaluate the operator
	w.ExprRule = ExprCall
	k := m.s.Cont(store.TagCallCont, rest, st.Env, st.Cont)
	return store.State{Expr: head, Env: st.Env, Cont: k}, *w, nil
}

// applyCont consumes a value produced by the expression rule.
func (m *Machine) applyCont(st store.State, v store.Ptr, w *StepWitness) (store.State, StepWitness, error) {
	w.Val = v
	kc, err := m.s.ContChildren(st.Cont)
	if err != nil {
		return store.State{}, *w, err
	}
	w.Cont = kc

	switch st.Cont.Tag {
	case store.TagOuterCont:
		w.ContRule = ContOuter
		return store.State{Expr: v, Env: st.Env, Cont: m.s.Terminal()}, *w, nil

	case store.TagCallCont:
		args, kenv, next := kc[0], kc[1], kc[2]
		if v.Tag != store.TagFun {
			w.ContRule = ContCallNotFun
			return m.errorState(st, CodeNotAFunction, w), *w, nil
		}
		params, body, fenv, err := m.s.FunParts(v)
		if err != nil {
			return store.State{}, *w, err
		}
		w.FunParams, w.FunBody, w.FunEnv = params, body, fenv
		if args.Tag == store.TagNil {
			w.ContRule = ContCallFunNil
			return store.State{Expr: v, Env: kenv, Cont: next}, *w, nil
		}
		if params.Tag == store.TagNil {
			w.ContRule = ContCallTooMany
			return m.errorState(st, CodeTooManyArgs, w), *w, nil
		}
		argHead, err := m.s.Car(args)
		if err != nil {
			return store.State{}, *w, err
		}
		argRest, err := m.s.Cdr(args)
		if err != nil {
			return store.State{}, *w, err
		}
		w.ArgHead, w.ArgRest = argHead, argRest
		w.ContRule = ContCallFun
		k := m.s.Cont(store.TagCall2Cont, v, argRest, kenv, next)
		return store.State{Expr: argHead, Env: kenv, Cont: k}, *w, nil

	case store.TagCall2Cont:
		fun, restArgs, kenv, next := kc[0], kc[1], kc[2], kc[3]
		params, body, fenv, err := m.s.FunParts(fun)
		if err != nil {
			return store.State{}, *w, err
		}
		w.FunParams, w.FunBody, w.FunEnv = params, body, fenv
		p, err := m.s.Car(params)
		if err != nil {
			return store.State{}, *w, err
		}
		ps, err := m.s.Cdr(params)
		if err != nil {
			return store.State{}, *w, err
		}
		w.ParamHead, w.ParamRest = p, ps
		bound := m.s.ExtendEnv(fenv, p, v)

		if ps.Tag == store.TagNil {
			if restArgs.Tag == store.TagNil {
				w.ContRule = ContCall2Body
				return store.State{Expr: body, Env: bound, Cont: next}, *w, nil
			}
			w.ContRule = ContCall2Chain
			k := m.s.Cont(store.TagCallCont, restArgs, kenv, next)
			return store.State{Expr: body, Env: bound, Cont: k}, *w, nil
		}

		partial := m.s.Fun(ps, body, bound)
		w.Res = partial
		if restArgs.Tag == store.TagNil {
			w.ContRule = ContCall2Partial
			return store.State{Expr: partial, Env: kenv, Cont: next}, *w, nil
		}
		argHead, err := m.s.Car(restArgs)
		if err != nil {
			return store.State{}, *w, err
		}
		argRest, err := m.s.Cdr(restArgs)
		if err != nil {
			return store.State{}, *w, err
		}
		w.ArgHead, w.ArgRest = argHead, argRest
		w.ContRule = ContCall2More
		k := m.s.Cont(store.TagCall2Cont, partial, argRest, kenv, next)
		return store.State{Expr: argHead, Env: kenv, Cont: k}, *w, nil

	case store.TagLetCont:
		sym, restB, body, kenv, next := kc[0], kc[1], kc[2], kc[3], kc[4]
		bound := m.s.ExtendEnv(kenv, sym, v)
		if restB.Tag == store.TagNil {
			w.ContRule = ContLetBody
			return store.State{Expr: body, Env: bound, Cont: next}, *w, nil
		}
		first, err := m.s.Car(restB)
		if err != nil {
			return store.State{}, *w, err
		}
		restB2, err := m.s.Cdr(restB)
		if err != nil {
			return store.State{}, *w, err
		}
		bparts, exact, err := m.listParts(first, 2)
		if err != nil {
			return store.State{}, *w, err
		}
		if !exact || bparts[0].Tag != store.TagSym {
			w.ContRule = ContLetErr
			return m.errorState(st, CodeMalformedForm, w), *w, nil
		}
		w.ContRule = ContLetMore
		w.Form[2], w.Form[3] = bparts[0], bparts[1]
		k := m.s.Cont(store.TagLetCont, bparts[0], restB2, body, bound, next)
		return store.State{Expr: bparts[1], Env: bound, Cont: k}, *w, nil

	case store.TagIfCont:
		thenE, elseE, kenv, next := kc[0], kc[1], kc[2], kc[3]
		branch := thenE
		if isFalsy(m.s, v) {
			branch = elseE
		}
		w.ContRule = ContIf
		return store.State{Expr: branch, Env: kenv, Cont: next}, *w, nil

	case store.TagBinop1Cont:
		op, arg2, kenv, next := kc[0], kc[1], kc[2], kc[3]
		w.ContRule = ContBinop1
		w.A = v
		k := m.s.Cont(store.TagBinop2Cont, op, v, next)
		return store.State{Expr: arg2, Env: kenv, Cont: k}, *w, nil

	case store.TagBinop2Cont:
		return m.applyBinop(st, kc, v, w)

	case store.TagEmitCont:
		next := kc[0]
		w.ContRule = ContEmit
		w.Emitted = &v
		w.Res = m.s.Thunk(v)
		return store.State{Expr: w.Res, Env: st.Env, Cont: next}, *w, nil
	}

	// a value meeting an unexpected continuation is a malformed trace
	w.ContRule = ContNone
	return m.errorState(st, CodeMalformedForm, w), *w, nil
}

func isFalsy(s *store.Store, v store.Ptr) bool {
	return v.Equal(s.Nil()) || v.Equal(s.Bool(false))
}

func (m *Machine) applyBinop(st store.State, kc [store.ContWidth]store.Ptr, v store.Ptr, w *StepWitness) (store.State, StepWitness, error) {
	op, a, next := kc[0], kc[1], kc[2]
	b := v
	w.A, w.B = a, b

	if a.Tag != store.TagNum || b.Tag != store.TagNum {
		w.ContRule = ContArithErr
		return m.errorState(st, CodeArithmeticType, w), *w, nil
	}

	var res store.Ptr
	switch {
	case op.Equal(m.opAdd):
		w.ContRule = ContAdd
		var x = a.Val
		x.Add(&x, &b.Val)
		res = m.s.NumField(x)
	case op.Equal(m.opSub):
		w.ContRule = ContSub
		var x = a.Val
		x.Sub(&x, &b.Val)
		res = m.s.NumField(x)
	case op.Equal(m.opMul):
		w.ContRule = ContMul
		var x = a.Val
		x.Mul(&x, &b.Val)
		res = m.s.NumField(x)
	case op.Equal(m.opDiv):
		if b.Val.IsZero() {
			w.ContRule = ContArithErr
			return m.errorState(st, CodeDivisionByZero, w), *w, nil
		}
		w.ContRule = ContDiv
		var inv = b.Val
		inv.Inverse(&inv)
		var x = a.Val
		x.Mul(&x, &inv)
		res = m.s.NumField(x)
	case op.Equal(m.opEq):
		w.ContRule = ContNumEq
		res = m.s.Bool(a.Val.Equal(&b.Val))
	case op.Equal(m.opLess):
		w.ContRule = ContLess
		res = m.s.Bool(a.Val.Cmp(&b.Val) < 0)
	default:
		w.ContRule = ContArithErr
		return m.errorState(st, CodeMalformedForm, w), *w, nil
	}

	w.Res = res
	return store.State{Expr: res, Env: st.Env, Cont: next}, *w, nil
}
