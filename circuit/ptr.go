// Package circuit encodes one reduction step of the machine as a uniform
// constraint system over the BN254 scalar field. Which case fired is a
// witness checked by one-hot selectors; every case is constrained and the
// output is selected across all of them, so the circuit shape is identical
// for every frame regardless of which rules actually fired.
package circuit

import (
	"math/big"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/gnark/frontend"

	"github.com/zklisp/zklisp/store"
)

// PtrVar is the in-circuit projection of a store pointer: the tag and the
// inline-scalar-or-digest, one field element each.
type PtrVar struct {
	Tag frontend.Variable
	Val frontend.Variable
}

// NewPtrVar assigns a native pointer into circuit form.
func NewPtrVar(p store.Ptr) PtrVar {
	f := p.Fields()
	return PtrVar{Tag: f[0], Val: f[1]}
}

// zeroPtrVar is the assignment for witness slots unused by the active
// rule; their constraints are gated out by the selector.
func zeroPtrVar() PtrVar {
	return PtrVar{Tag: 0, Val: 0}
}

// fields flattens the pointer for hashing.
func (p PtrVar) fields() []frontend.Variable {
	return []frontend.Variable{p.Tag, p.Val}
}

// StateVars is the in-circuit projection of a machine state.
type StateVars struct {
	ExprTag, ExprVal frontend.Variable
	EnvTag, EnvVal   frontend.Variable
	ContTag, ContVal frontend.Variable
}

func stateVarsFromSlice(v [store.StateWidth]frontend.Variable) StateVars {
	return StateVars{
		ExprTag: v[0], ExprVal: v[1],
		EnvTag: v[2], EnvVal: v[3],
		ContTag: v[4], ContVal: v[5],
	}
}

func (s StateVars) slice() [store.StateWidth]frontend.Variable {
	return [store.StateWidth]frontend.Variable{
		s.ExprTag, s.ExprVal, s.EnvTag, s.EnvVal, s.ContTag, s.ContVal,
	}
}

func (s StateVars) expr() PtrVar { return PtrVar{Tag: s.ExprTag, Val: s.ExprVal} }
func (s StateVars) env() PtrVar  { return PtrVar{Tag: s.EnvTag, Val: s.EnvVal} }
func (s StateVars) cont() PtrVar { return PtrVar{Tag: s.ContTag, Val: s.ContVal} }

// StateAssignment flattens a native state for witness assignment.
func StateAssignment(st store.State) [store.StateWidth]frontend.Variable {
	f := st.Fields()
	var out [store.StateWidth]frontend.Variable
	for i := range f {
		out[i] = f[i]
	}
	return out
}

// gateEq asserts sel*(a-b) == 0: when the selector is active the operands
// must agree, otherwise the constraint is vacuous.
func gateEq(api frontend.API, sel, a, b frontend.Variable) {
	api.AssertIsEqual(api.Mul(sel, api.Sub(a, b)), 0)
}

// gatePtrEq gates pointer equality componentwise.
func gatePtrEq(api frontend.API, sel frontend.Variable, a, b PtrVar) {
	gateEq(api, sel, a.Tag, b.Tag)
	gateEq(api, sel, a.Val, b.Val)
}

// gateTagIn asserts that, under the selector, t is one of the listed tags.
func gateTagIn(api frontend.API, sel, t frontend.Variable, tags ...store.Tag) {
	prod := frontend.Variable(1)
	for _, tag := range tags {
		prod = api.Mul(prod, api.Sub(t, uint64(tag)))
	}
	api.AssertIsEqual(api.Mul(sel, prod), 0)
}

// constPtr embeds a native pointer as circuit constants.
func constPtr(p store.Ptr) PtrVar {
	f := p.Fields()
	return PtrVar{Tag: elemToVar(f[0]), Val: elemToVar(f[1])}
}

func elemToVar(e fr.Element) frontend.Variable {
	v := e.BigInt(new(big.Int))
	return v
}
