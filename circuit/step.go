package circuit

import (
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/std/hash/mimc"

	"github.com/zklisp/zklisp/eval"
	"github.com/zklisp/zklisp/store"
)

// FrameWitness carries the auxiliary witness for one reduction step: the
// one-hot rule selectors and every hash opening the active rule needs. The
// slots unused by the active rule are assigned zero and their constraints
// are gated out by the selectors.
type FrameWitness struct {
	ExprSel [eval.NumExprRules]frontend.Variable
	ContSel [eval.NumContRules]frontend.Variable

	// opening of the input expression when it is a pair or a thunk, or of
	// the environment chain when it is a symbol
	Head, Rest PtrVar

	// symbol of the leading environment binding for the lookup rules
	LookSym PtrVar

	// spine of the form's argument list, rest = (Form0 . SpineA),
	// SpineA = (Form1 . SpineB), SpineB = (Form2 . SpineC)
	SpineA, SpineB, SpineC PtrVar
	Form                   [4]PtrVar

	// let bindings list and the first binding's spine
	BindFirst, BindRest, BindSpine PtrVar

	// opening of the input continuation and children of the pushed one
	Cont    [store.ContWidth]PtrVar
	NewCont [store.ContWidth]PtrVar

	// value produced by the expression rule
	Val PtrVar

	// function application openings
	FunParams, FunBody, FunEnv PtrVar
	ParamHead, ParamRest       PtrVar
	ArgHead, ArgRest           PtrVar

	// environment extension sources
	BindSym, BindTail PtrVar

	// binary operator operands and result
	A, B, Res PtrVar

	// language-level error code for error transitions
	ErrCode frontend.Variable

	// multiplicative inverse of the divisor for the division rule
	DivInv frontend.Variable

	// inverse witnessing a required inequality: the leading binding's
	// symbol against the looked-up one, or the value's tag against the
	// function tag for the not-a-function rule
	NeqInv frontend.Variable
}

func hashPtrVars(api frontend.API, ptrs ...PtrVar) (frontend.Variable, error) {
	h, err := mimc.NewMiMC(api)
	if err != nil {
		return nil, err
	}
	for _, p := range ptrs {
		h.Write(p.Tag, p.Val)
	}
	return h.Sum(), nil
}

// stepHashes are the fixed hash computations every frame performs, active
// or not, keeping the circuit shape uniform.
type stepHashes struct {
	exprOpen  frontend.Variable // H(Head, Rest) for pair expressions
	thunkIn   frontend.Variable // H(Head) for thunk expressions
	contOpen  frontend.Variable // H(Cont[0..4])
	spineA    frontend.Variable // H(Form0, SpineA)
	spineB    frontend.Variable // H(Form1, SpineB)
	spineC    frontend.Variable // H(Form2, SpineC)
	bindings  frontend.Variable // H(BindFirst, BindRest)
	bindOpen  frontend.Variable // H(Form2, BindSpine)
	bindOpen2 frontend.Variable // H(Form3, nil)
	newCont   frontend.Variable // H(NewCont[0..4])
	funOpen   frontend.Variable // H(FunParams, FunBody, FunEnv)
	params    frontend.Variable // H(ParamHead, ParamRest)
	args      frontend.Variable // H(ArgHead, ArgRest)
	lookPair  frontend.Variable // H(LookSym, Val), the leading binding pair

	boundEnv   PtrVar // environment extended with (BindSym . Val)
	thunkNew   PtrVar // Thunk(Val)
	lambdaPtr  PtrVar // Fun(Form0, Form1, input env)
	partialPtr PtrVar // Fun(ParamRest, FunBody, boundEnv)
	errCont    PtrVar // ErrorCont(Num(ErrCode))
}

func computeStepHashes(api frontend.API, g *Globals, in StateVars, w *FrameWitness) (*stepHashes, error) {
	var (
		h   stepHashes
		err error
	)
	if h.exprOpen, err = hashPtrVars(api, w.Head, w.Rest); err != nil {
		return nil, err
	}
	if h.thunkIn, err = hashPtrVars(api, w.Head); err != nil {
		return nil, err
	}
	if h.contOpen, err = hashPtrVars(api, w.Cont[0], w.Cont[1], w.Cont[2], w.Cont[3], w.Cont[4]); err != nil {
		return nil, err
	}
	if h.spineA, err = hashPtrVars(api, w.Form[0], w.SpineA); err != nil {
		return nil, err
	}
	if h.spineB, err = hashPtrVars(api, w.Form[1], w.SpineB); err != nil {
		return nil, err
	}
	if h.spineC, err = hashPtrVars(api, w.Form[2], w.SpineC); err != nil {
		return nil, err
	}
	if h.bindings, err = hashPtrVars(api, w.BindFirst, w.BindRest); err != nil {
		return nil, err
	}
	if h.bindOpen, err = hashPtrVars(api, w.Form[2], w.BindSpine); err != nil {
		return nil, err
	}
	if h.bindOpen2, err = hashPtrVars(api, w.Form[3], g.Nil); err != nil {
		return nil, err
	}
	if h.newCont, err = hashPtrVars(api, w.NewCont[0], w.NewCont[1], w.NewCont[2], w.NewCont[3], w.NewCont[4]); err != nil {
		return nil, err
	}
	if h.funOpen, err = hashPtrVars(api, w.FunParams, w.FunBody, w.FunEnv); err != nil {
		return nil, err
	}
	if h.params, err = hashPtrVars(api, w.ParamHead, w.ParamRest); err != nil {
		return nil, err
	}
	if h.args, err = hashPtrVars(api, w.ArgHead, w.ArgRest); err != nil {
		return nil, err
	}
	if h.lookPair, err = hashPtrVars(api, w.LookSym, w.Val); err != nil {
		return nil, err
	}

	pairHash, err := hashPtrVars(api, w.BindSym, w.Val)
	if err != nil {
		return nil, err
	}
	pairPtr := PtrVar{Tag: uint64(store.TagCons), Val: pairHash}
	envHash, err := hashPtrVars(api, pairPtr, w.BindTail)
	if err != nil {
		return nil, err
	}
	h.boundEnv = PtrVar{Tag: uint64(store.TagCons), Val: envHash}

	thunkHash, err := hashPtrVars(api, w.Val)
	if err != nil {
		return nil, err
	}
	h.thunkNew = PtrVar{Tag: uint64(store.TagThunk), Val: thunkHash}

	lambdaHash, err := hashPtrVars(api, w.Form[0], w.Form[1], in.env())
	if err != nil {
		return nil, err
	}
	h.lambdaPtr = PtrVar{Tag: uint64(store.TagFun), Val: lambdaHash}

	partialHash, err := hashPtrVars(api, w.ParamRest, w.FunBody, h.boundEnv)
	if err != nil {
		return nil, err
	}
	h.partialPtr = PtrVar{Tag: uint64(store.TagFun), Val: partialHash}

	errHash, err := hashPtrVars(api,
		PtrVar{Tag: uint64(store.TagNum), Val: w.ErrCode},
		g.Nil, g.Nil, g.Nil, g.Nil)
	if err != nil {
		return nil, err
	}
	h.errCont = PtrVar{Tag: uint64(store.TagErrorCont), Val: errHash}

	return &h, nil
}

// candidate is one rule's proposed output state, weighted by its selector.
type candidate struct {
	sel  frontend.Variable
	expr PtrVar
	env  PtrVar
	cont PtrVar
}

// synthesizeStep constrains one reduction step and returns the derived
// output state. The constraint count and structure are independent of
// which rule fired.
func synthesizeStep(api frontend.API, g *Globals, in StateVars, w *FrameWitness) (StateVars, error) {
	selE := func(r eval.ExprRule) frontend.Variable { return w.ExprSel[r] }
	selC := func(r eval.ContRule) frontend.Variable { return w.ContSel[r] }

	// one-hot selectors
	sumE := frontend.Variable(0)
	for i := range w.ExprSel {
		api.AssertIsBoolean(w.ExprSel[i])
		sumE = api.Add(sumE, w.ExprSel[i])
	}
	api.AssertIsEqual(sumE, 1)
	sumC := frontend.Variable(0)
	for i := range w.ContSel {
		api.AssertIsBoolean(w.ContSel[i])
		sumC = api.Add(sumC, w.ContSel[i])
	}
	api.AssertIsEqual(sumC, 1)

	// a continuation rule fires exactly when the expression rule produced
	// a value
	valueFlag := api.Add(
		selE(eval.ExprSelf), selE(eval.ExprThunk), selE(eval.ExprLookup),
		selE(eval.ExprQuote), selE(eval.ExprLambda))
	api.AssertIsEqual(selC(eval.ContNone), api.Sub(1, valueFlag))

	h, err := computeStepHashes(api, g, in, w)
	if err != nil {
		return StateVars{}, err
	}

	inExpr, inEnv, inCont := in.expr(), in.env(), in.cont()
	cands := make([]candidate, 0, 32)

	// gates shared by the pair-expression rules
	consGate := func(sel frontend.Variable) {
		gateEq(api, sel, in.ExprTag, uint64(store.TagCons))
		gateEq(api, sel, h.exprOpen, in.ExprVal)
	}
	// rest is a list of exactly n elements (n in 1..3), binding Form[0..n)
	restList := func(sel frontend.Variable, n int) {
		gateEq(api, sel, w.Rest.Tag, uint64(store.TagCons))
		gateEq(api, sel, h.spineA, w.Rest.Val)
		if n == 1 {
			gatePtrEq(api, sel, w.SpineA, g.Nil)
			return
		}
		gateEq(api, sel, w.SpineA.Tag, uint64(store.TagCons))
		gateEq(api, sel, h.spineB, w.SpineA.Val)
		if n == 2 {
			gatePtrEq(api, sel, w.SpineB, g.Nil)
			return
		}
		gateEq(api, sel, w.SpineB.Tag, uint64(store.TagCons))
		gateEq(api, sel, h.spineC, w.SpineB.Val)
		gatePtrEq(api, sel, w.SpineC, g.Nil)
	}
	// opening of the input continuation
	contGate := func(sel frontend.Variable, tag store.Tag) {
		gateEq(api, sel, in.ContTag, uint64(tag))
		gateEq(api, sel, h.contOpen, in.ContVal)
	}
	newContPtr := func(tag store.Tag) PtrVar {
		return PtrVar{Tag: uint64(tag), Val: h.newCont}
	}
	// the pushed continuation's children must match the claimed sources
	newContGate := func(sel frontend.Variable, children ...PtrVar) {
		for i := 0; i < store.ContWidth; i++ {
			src := g.Nil
			if i < len(children) {
				src = children[i]
			}
			gatePtrEq(api, sel, w.NewCont[i], src)
		}
	}

	// --- expression rules ---

	{ // halted states step to themselves; this is also the padding rule
		sel := selE(eval.ExprHalted)
		gateTagIn(api, sel, in.ContTag, store.TagTerminalCont, store.TagErrorCont)
		cands = append(cands, candidate{sel, inExpr, inEnv, inCont})
	}
	{ // self-evaluating atom
		sel := selE(eval.ExprSelf)
		gateTagIn(api, sel, in.ExprTag,
			store.TagNil, store.TagNum, store.TagStr, store.TagChar, store.TagBool, store.TagFun)
		gatePtrEq(api, sel, w.Val, inExpr)
	}
	{ // thunk unwraps to its payload
		sel := selE(eval.ExprThunk)
		gateEq(api, sel, in.ExprTag, uint64(store.TagThunk))
		gateEq(api, sel, h.thunkIn, in.ExprVal)
		gatePtrEq(api, sel, w.Val, w.Head)
	}
	// gates shared by the lookup rules: the environment opens as a cons of
	// the leading binding pair and the remaining chain
	lookGate := func(sel frontend.Variable) {
		gateEq(api, sel, in.ExprTag, uint64(store.TagSym))
		gateEq(api, sel, in.EnvTag, uint64(store.TagCons))
		gateEq(api, sel, h.exprOpen, in.EnvVal)
		gateEq(api, sel, w.Head.Tag, uint64(store.TagCons))
		gateEq(api, sel, h.lookPair, w.Head.Val)
	}
	{ // symbol matched the leading binding; its value is the result
		sel := selE(eval.ExprLookup)
		lookGate(sel)
		gatePtrEq(api, sel, w.LookSym, inExpr)
	}
	{ // symbol missed the leading binding; NeqInv proves the mismatch
		sel := selE(eval.ExprLookupNext)
		lookGate(sel)
		diff := api.Sub(w.LookSym.Val, in.ExprVal)
		api.AssertIsEqual(api.Mul(sel, api.Sub(api.Mul(diff, w.NeqInv), 1)), 0)
		cands = append(cands, candidate{sel, inExpr, w.Rest, inCont})
	}
	{ // unbound symbol errors once the chain is exhausted
		sel := selE(eval.ExprUnbound)
		gateEq(api, sel, in.ExprTag, uint64(store.TagSym))
		gatePtrEq(api, sel, inEnv, g.Nil)
		gateEq(api, sel, w.ErrCode, uint64(eval.CodeUnboundVariable))
		cands = append(cands, candidate{sel, inExpr, inEnv, h.errCont})
	}
	{ // quote yields its payload as a value
		sel := selE(eval.ExprQuote)
		consGate(sel)
		gatePtrEq(api, sel, w.Head, g.SymQuote)
		restList(sel, 1)
		gatePtrEq(api, sel, w.Val, w.Form[0])
	}
	{ // lambda closes over the current environment
		sel := selE(eval.ExprLambda)
		consGate(sel)
		gatePtrEq(api, sel, w.Head, g.SymLambda)
		restList(sel, 2)
		gatePtrEq(api, sel, w.Val, h.lambdaPtr)
	}
	{ // let with at least one binding
		sel := selE(eval.ExprLet)
		consGate(sel)
		gatePtrEq(api, sel, w.Head, g.SymLet)
		restList(sel, 2)
		gateEq(api, sel, w.Form[0].Tag, uint64(store.TagCons))
		gateEq(api, sel, h.bindings, w.Form[0].Val)
		gateEq(api, sel, w.BindFirst.Tag, uint64(store.TagCons))
		gateEq(api, sel, h.bindOpen, w.BindFirst.Val)
		gateEq(api, sel, w.BindSpine.Tag, uint64(store.TagCons))
		gateEq(api, sel, h.bindOpen2, w.BindSpine.Val)
		gateEq(api, sel, w.Form[2].Tag, uint64(store.TagSym))
		newContGate(sel, w.Form[2], w.BindRest, w.Form[1], inEnv, inCont)
		cands = append(cands, candidate{sel, w.Form[3], inEnv, newContPtr(store.TagLetCont)})
	}
	{ // let with no bindings descends into the body
		sel := selE(eval.ExprLetBare)
		consGate(sel)
		gatePtrEq(api, sel, w.Head, g.SymLet)
		restList(sel, 2)
		gatePtrEq(api, sel, w.Form[0], g.Nil)
		cands = append(cands, candidate{sel, w.Form[1], inEnv, inCont})
	}
	{ // if pushes a branch-selection continuation
		sel := selE(eval.ExprIf)
		consGate(sel)
		gatePtrEq(api, sel, w.Head, g.SymIf)
		restList(sel, 3)
		newContGate(sel, w.Form[1], w.Form[2], inEnv, inCont)
		cands = append(cands, candidate{sel, w.Form[0], inEnv, newContPtr(store.TagIfCont)})
	}
	{ // binary operator pushes the first-operand continuation
		sel := selE(eval.ExprBinop)
		consGate(sel)
		gateEq(api, sel, w.Head.Tag, uint64(store.TagSym))
		prod := frontend.Variable(1)
		for _, op := range []PtrVar{g.OpAdd, g.OpSub, g.OpMul, g.OpDiv, g.OpEq, g.OpLess} {
			prod = api.Mul(prod, api.Sub(w.Head.Val, op.Val))
		}
		api.AssertIsEqual(api.Mul(sel, prod), 0)
		restList(sel, 2)
		newContGate(sel, w.Head, w.Form[1], inEnv, inCont)
		cands = append(cands, candidate{sel, w.Form[0], inEnv, newContPtr(store.TagBinop1Cont)})
	}
	{ // emit evaluates its argument under an emit continuation
		sel := selE(eval.ExprEmit)
		consGate(sel)
		gatePtrEq(api, sel, w.Head, g.SymEmit)
		restList(sel, 1)
		newContGate(sel, inCont)
		cands = append(cands, candidate{sel, w.Form[0], inEnv, newContPtr(store.TagEmitCont)})
	}
	{ // function application evaluates the operator first
		sel := selE(eval.ExprCall)
		consGate(sel)
		newContGate(sel, w.Rest, inEnv, inCont)
		cands = append(cands, candidate{sel, w.Head, inEnv, newContPtr(store.TagCallCont)})
	}
	{ // malformed form
		sel := selE(eval.ExprError)
		gateEq(api, sel, w.ErrCode, uint64(eval.CodeMalformedForm))
		cands = append(cands, candidate{sel, inExpr, inEnv, h.errCont})
	}

	// --- continuation rules ---

	{ // outermost continuation halts with the value
		sel := selC(eval.ContOuter)
		gateEq(api, sel, in.ContTag, uint64(store.TagOuterCont))
		cands = append(cands, candidate{sel, w.Val, inEnv, g.Terminal})
	}
	{ // operator value is not applicable; NeqInv proves its tag is not Fun
		sel := selC(eval.ContCallNotFun)
		contGate(sel, store.TagCallCont)
		diff := api.Sub(w.Val.Tag, uint64(store.TagFun))
		api.AssertIsEqual(api.Mul(sel, api.Sub(api.Mul(diff, w.NeqInv), 1)), 0)
		gateEq(api, sel, w.ErrCode, uint64(eval.CodeNotAFunction))
		cands = append(cands, candidate{sel, inExpr, inEnv, h.errCont})
	}
	{ // parameters exhausted with arguments still pending
		sel := selC(eval.ContCallTooMany)
		contGate(sel, store.TagCallCont)
		gateEq(api, sel, w.Val.Tag, uint64(store.TagFun))
		gateEq(api, sel, h.funOpen, w.Val.Val)
		gatePtrEq(api, sel, w.FunParams, g.Nil)
		gateEq(api, sel, w.Cont[0].Tag, uint64(store.TagCons))
		gateEq(api, sel, w.ErrCode, uint64(eval.CodeTooManyArgs))
		cands = append(cands, candidate{sel, inExpr, inEnv, h.errCont})
	}
	{ // zero-argument application yields the function itself
		sel := selC(eval.ContCallFunNil)
		contGate(sel, store.TagCallCont)
		gateEq(api, sel, w.Val.Tag, uint64(store.TagFun))
		gatePtrEq(api, sel, w.Cont[0], g.Nil)
		cands = append(cands, candidate{sel, w.Val, w.Cont[1], w.Cont[2]})
	}
	{ // operator arrived; evaluate the first argument
		sel := selC(eval.ContCallFun)
		contGate(sel, store.TagCallCont)
		gateEq(api, sel, w.Val.Tag, uint64(store.TagFun))
		gateEq(api, sel, h.funOpen, w.Val.Val)
		gateEq(api, sel, w.FunParams.Tag, uint64(store.TagCons))
		gateEq(api, sel, w.Cont[0].Tag, uint64(store.TagCons))
		gateEq(api, sel, h.args, w.Cont[0].Val)
		newContGate(sel, w.Val, w.ArgRest, w.Cont[1], w.Cont[2])
		cands = append(cands, candidate{sel, w.ArgHead, w.Cont[1], newContPtr(store.TagCall2Cont)})
	}

	// gates shared by the argument-binding rules
	call2Gate := func(sel frontend.Variable) {
		contGate(sel, store.TagCall2Cont)
		gateEq(api, sel, w.Cont[0].Tag, uint64(store.TagFun))
		gateEq(api, sel, h.funOpen, w.Cont[0].Val)
		gateEq(api, sel, w.FunParams.Tag, uint64(store.TagCons))
		gateEq(api, sel, h.params, w.FunParams.Val)
		gatePtrEq(api, sel, w.BindSym, w.ParamHead)
		gatePtrEq(api, sel, w.BindTail, w.FunEnv)
	}
	{ // last parameter bound, no surplus arguments: enter the body
		sel := selC(eval.ContCall2Body)
		call2Gate(sel)
		gatePtrEq(api, sel, w.ParamRest, g.Nil)
		gatePtrEq(api, sel, w.Cont[1], g.Nil)
		cands = append(cands, candidate{sel, w.FunBody, h.boundEnv, w.Cont[3]})
	}
	{ // last parameter bound, surplus arguments re-applied to the result
		sel := selC(eval.ContCall2Chain)
		call2Gate(sel)
		gatePtrEq(api, sel, w.ParamRest, g.Nil)
		gateEq(api, sel, w.Cont[1].Tag, uint64(store.TagCons))
		newContGate(sel, w.Cont[1], w.Cont[2], w.Cont[3])
		cands = append(cands, candidate{sel, w.FunBody, h.boundEnv, newContPtr(store.TagCallCont)})
	}
	{ // parameter bound, next argument evaluated
		sel := selC(eval.ContCall2More)
		call2Gate(sel)
		gateEq(api, sel, w.ParamRest.Tag, uint64(store.TagCons))
		gateEq(api, sel, w.Cont[1].Tag, uint64(store.TagCons))
		gateEq(api, sel, h.args, w.Cont[1].Val)
		gatePtrEq(api, sel, w.Res, h.partialPtr)
		newContGate(sel, w.Res, w.ArgRest, w.Cont[2], w.Cont[3])
		cands = append(cands, candidate{sel, w.ArgHead, w.Cont[2], newContPtr(store.TagCall2Cont)})
	}
	{ // parameter bound, no more arguments: partial application
		sel := selC(eval.ContCall2Partial)
		call2Gate(sel)
		gateEq(api, sel, w.ParamRest.Tag, uint64(store.TagCons))
		gatePtrEq(api, sel, w.Cont[1], g.Nil)
		gatePtrEq(api, sel, w.Res, h.partialPtr)
		cands = append(cands, candidate{sel, w.Res, w.Cont[2], w.Cont[3]})
	}

	// gates shared by the let-binding rules
	letGate := func(sel frontend.Variable) {
		contGate(sel, store.TagLetCont)
		gatePtrEq(api, sel, w.BindSym, w.Cont[0])
		gatePtrEq(api, sel, w.BindTail, w.Cont[3])
	}
	{ // last binding done: enter the body
		sel := selC(eval.ContLetBody)
		letGate(sel)
		gatePtrEq(api, sel, w.Cont[1], g.Nil)
		cands = append(cands, candidate{sel, w.Cont[2], h.boundEnv, w.Cont[4]})
	}
	{ // bind and evaluate the next binding
		sel := selC(eval.ContLetMore)
		letGate(sel)
		gateEq(api, sel, w.Cont[1].Tag, uint64(store.TagCons))
		gateEq(api, sel, h.bindings, w.Cont[1].Val)
		gateEq(api, sel, w.BindFirst.Tag, uint64(store.TagCons))
		gateEq(api, sel, h.bindOpen, w.BindFirst.Val)
		gateEq(api, sel, w.BindSpine.Tag, uint64(store.TagCons))
		gateEq(api, sel, h.bindOpen2, w.BindSpine.Val)
		gateEq(api, sel, w.Form[2].Tag, uint64(store.TagSym))
		newContGate(sel, w.Form[2], w.BindRest, w.Cont[2], h.boundEnv, w.Cont[4])
		cands = append(cands, candidate{sel, w.Form[3], h.boundEnv, newContPtr(store.TagLetCont)})
	}
	{ // a later binding was not a (symbol expr) pair
		sel := selC(eval.ContLetErr)
		contGate(sel, store.TagLetCont)
		gateEq(api, sel, w.ErrCode, uint64(eval.CodeMalformedForm))
		cands = append(cands, candidate{sel, inExpr, inEnv, h.errCont})
	}
	{ // branch selection
		sel := selC(eval.ContIf)
		contGate(sel, store.TagIfCont)
		isNilTag := api.IsZero(api.Sub(w.Val.Tag, uint64(store.TagNil)))
		isBoolTag := api.IsZero(api.Sub(w.Val.Tag, uint64(store.TagBool)))
		isZeroVal := api.IsZero(w.Val.Val)
		// nil and false have distinct tags, so the flags are exclusive
		falsy := api.Add(api.Mul(isNilTag, isZeroVal), api.Mul(isBoolTag, isZeroVal))
		branch := PtrVar{
			Tag: api.Select(falsy, w.Cont[1].Tag, w.Cont[0].Tag),
			Val: api.Select(falsy, w.Cont[1].Val, w.Cont[0].Val),
		}
		cands = append(cands, candidate{sel, branch, w.Cont[2], w.Cont[3]})
	}
	{ // first operand arrived; evaluate the second
		sel := selC(eval.ContBinop1)
		contGate(sel, store.TagBinop1Cont)
		newContGate(sel, w.Cont[0], w.Val, w.Cont[3])
		cands = append(cands, candidate{sel, w.Cont[1], w.Cont[2], newContPtr(store.TagBinop2Cont)})
	}

	// arithmetic rules; the first operand was saved in the continuation
	arithGate := func(sel frontend.Variable, op PtrVar) {
		contGate(sel, store.TagBinop2Cont)
		gatePtrEq(api, sel, w.Cont[0], op)
		gatePtrEq(api, sel, w.A, w.Cont[1])
		gatePtrEq(api, sel, w.B, w.Val)
		gateEq(api, sel, w.A.Tag, uint64(store.TagNum))
		gateEq(api, sel, w.B.Tag, uint64(store.TagNum))
	}
	numRes := func(sel, val frontend.Variable) {
		gateEq(api, sel, w.Res.Tag, uint64(store.TagNum))
		gateEq(api, sel, w.Res.Val, val)
		cands = append(cands, candidate{sel, w.Res, inEnv, w.Cont[2]})
	}
	boolRes := func(sel, bit frontend.Variable) {
		gateEq(api, sel, w.Res.Tag, uint64(store.TagBool))
		gateEq(api, sel, w.Res.Val, bit)
		cands = append(cands, candidate{sel, w.Res, inEnv, w.Cont[2]})
	}
	{
		sel := selC(eval.ContAdd)
		arithGate(sel, g.OpAdd)
		numRes(sel, api.Add(w.A.Val, w.B.Val))
	}
	{
		sel := selC(eval.ContSub)
		arithGate(sel, g.OpSub)
		numRes(sel, api.Sub(w.A.Val, w.B.Val))
	}
	{
		sel := selC(eval.ContMul)
		arithGate(sel, g.OpMul)
		numRes(sel, api.Mul(w.A.Val, w.B.Val))
	}
	{ // field division; DivInv witnesses the inverse, which also proves
		// the divisor is nonzero
		sel := selC(eval.ContDiv)
		arithGate(sel, g.OpDiv)
		api.AssertIsEqual(api.Mul(sel, api.Sub(api.Mul(w.B.Val, w.DivInv), 1)), 0)
		numRes(sel, api.Mul(w.A.Val, w.DivInv))
	}
	{
		sel := selC(eval.ContNumEq)
		arithGate(sel, g.OpEq)
		boolRes(sel, api.IsZero(api.Sub(w.A.Val, w.B.Val)))
	}
	{
		sel := selC(eval.ContLess)
		arithGate(sel, g.OpLess)
		cmp := api.Cmp(w.A.Val, w.B.Val)
		boolRes(sel, api.IsZero(api.Add(cmp, 1)))
	}
	{ // arithmetic failure: type error or division by zero
		sel := selC(eval.ContArithErr)
		contGate(sel, store.TagBinop2Cont)
		gatePtrEq(api, sel, w.A, w.Cont[1])
		gatePtrEq(api, sel, w.B, w.Val)
		codes := api.Mul(
			api.Sub(w.ErrCode, uint64(eval.CodeArithmeticType)),
			api.Sub(w.ErrCode, uint64(eval.CodeDivisionByZero)))
		api.AssertIsEqual(api.Mul(sel, codes), 0)
		cands = append(cands, candidate{sel, inExpr, inEnv, h.errCont})
	}
	{ // emit passes the value through wrapped as a thunk
		sel := selC(eval.ContEmit)
		contGate(sel, store.TagEmitCont)
		cands = append(cands, candidate{sel, h.thunkNew, inEnv, w.Cont[0]})
	}

	// exactly one candidate is active; the output is the selector-weighted
	// sum across all of them
	total := frontend.Variable(0)
	var out StateVars
	outSlots := []*frontend.Variable{
		&out.ExprTag, &out.ExprVal, &out.EnvTag, &out.EnvVal, &out.ContTag, &out.ContVal,
	}
	for i := range outSlots {
		*outSlots[i] = frontend.Variable(0)
	}
	for _, c := range cands {
		total = api.Add(total, c.sel)
		comps := []frontend.Variable{
			c.expr.Tag, c.expr.Val, c.env.Tag, c.env.Val, c.cont.Tag, c.cont.Val,
		}
		for i := range outSlots {
			*outSlots[i] = api.Add(*outSlots[i], api.Mul(c.sel, comps[i]))
		}
	}
	api.AssertIsEqual(total, 1)

	return out, nil
}
