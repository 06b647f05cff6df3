package eval

import "github.com/zklisp/zklisp/store"

// ExprRule identifies how the control expression reduced in a step. A rule
// either produces a value, which the continuation consumes in the same
// step, or directly determines the next control state. The set is closed:
// the step circuit carries a one-hot selector sized by NumExprRules, so a
// rule added here needs a matching circuit case.
type ExprRule uint8

const (
	ExprHalted ExprRule = iota // terminal or error continuation; step is a no-op
	ExprSelf                   // self-evaluating atom
	ExprThunk                  // delayed-value wrapper unwraps
	ExprLookup                 // symbol matched the leading environment binding
	ExprLookupNext             // symbol missed the leading binding; drop it and retry
	ExprUnbound                // symbol exhausted the environment
	ExprQuote
	ExprLambda
	ExprLet     // at least one binding: push a let continuation
	ExprLetBare // no bindings: descend into the body
	ExprIf
	ExprBinop
	ExprEmit
	ExprCall
	ExprError // malformed form

	NumExprRules
)

var exprRuleNames = [NumExprRules]string{
	"halted", "self", "thunk", "lookup", "lookup-next", "unbound", "quote",
	"lambda", "let", "let-bare", "if", "binop", "emit", "call", "error",
}

func (r ExprRule) String() string {
	if int(r) < int(NumExprRules) {
		return exprRuleNames[r]
	}
	return "expr-rule?"
}

// producesValue reports whether the rule yields a value for the
// continuation to consume within the same step.
func (r ExprRule) producesValue() bool {
	switch r {
	case ExprSelf, ExprThunk, ExprLookup, ExprQuote, ExprLambda:
		return true
	}
	return false
}

// ContRule identifies how the continuation consumed the produced value.
// ContNone marks steps whose expression rule already determined the output.
type ContRule uint8

const (
	ContNone ContRule = iota
	ContOuter
	ContCallFun     // operator value arrived, arguments pending
	ContCallFunNil  // operator value arrived, no arguments
	ContCallNotFun  // operator value is not a function
	ContCallTooMany // parameters exhausted with arguments pending
	ContCall2Body   // last parameter bound, no pending arguments
	ContCall2Chain  // last parameter bound, surplus arguments re-applied
	ContCall2More   // parameter bound, next argument evaluated
	ContCall2Partial // parameter bound, partial application result
	ContLetBody
	ContLetMore
	ContLetErr // malformed later binding surfaced when its value arrived
	ContIf
	ContBinop1
	ContAdd
	ContSub
	ContMul
	ContDiv
	ContNumEq
	ContLess
	ContArithErr
	ContEmit

	NumContRules
)

var contRuleNames = [NumContRules]string{
	"none", "outer", "call-fun", "call-fun-nil", "call-not-fun",
	"call-too-many", "call2-body", "call2-chain", "call2-more",
	"call2-partial", "let-body", "let-more", "let-err", "if", "binop1",
	"add", "sub", "mul", "div", "num-eq", "less", "arith-err", "emit",
}

func (r ContRule) String() string {
	if int(r) < int(NumContRules) {
		return contRuleNames[r]
	}
	return "cont-rule?"
}

// ErrCode is a language-level error carried inside an error continuation.
// These are data in the trace, not native faults: a program that errors
// still has a provable final state.
type ErrCode uint64

const (
	CodeUnboundVariable ErrCode = iota + 1
	CodeArithmeticType
	CodeDivisionByZero
	CodeMalformedForm
	CodeNotAFunction
	CodeTooManyArgs
)

func (c ErrCode) String() string {
	switch c {
	case CodeUnboundVariable:
		return "unbound variable"
	case CodeArithmeticType:
		return "arithmetic type error"
	case CodeDivisionByZero:
		return "division by zero"
	case CodeMalformedForm:
		return "malformed form"
	case CodeNotAFunction:
		return "not a function"
	case CodeTooManyArgs:
		return "too many arguments"
	}
	return "error?"
}

// StepWitness records which rules fired and every pointer the circuit
// needs to replay the transition without re-deriving it: hash openings of
// the expression and continuation, the produced value, and operands.
type StepWitness struct {
	ExprRule ExprRule
	ContRule ContRule

	// opening of the input expression when it is a pair or thunk, or of
	// the environment chain when the expression is a symbol
	Head, Rest store.Ptr

	// openings one level deeper into the form: quote payload, lambda
	// params/body, let first binding and rest, if branches, binop args
	Form [4]store.Ptr

	// opening of the input continuation
	Cont [store.ContWidth]store.Ptr

	// value produced by the expression rule, if any
	Val store.Ptr

	// opening of the function being applied
	FunParams, FunBody, FunEnv store.Ptr
	ParamHead, ParamRest       store.Ptr
	ArgHead, ArgRest           store.Ptr

	// binary operator operands and result
	A, B, Res store.Ptr

	// value emitted by an emit continuation, if any
	Emitted *store.Ptr

	// language-level error code when the step transitions into an error
	// continuation
	ErrCode ErrCode
}
