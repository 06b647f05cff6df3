package store

import (
	"fmt"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
)

// Ptr is a content-addressed reference to a stored value. For atom tags the
// value scalar is carried inline; for compound tags it is the MiMC digest
// of the children. Two pointers are equal iff tag and value are equal,
// which stands in for structural equality without traversal.
type Ptr struct {
	Tag Tag
	Val fr.Element
}

// Equal reports pointer equality, which by content addressing is
// structural equality of the referenced values.
func (p Ptr) Equal(o Ptr) bool {
	return p.Tag == o.Tag && p.Val.Equal(&o.Val)
}

// Fields returns the two-field-element encoding of the pointer used by the
// circuit layer: the tag as one element and the value as another.
func (p Ptr) Fields() [2]fr.Element {
	return [2]fr.Element{p.Tag.Field(), p.Val}
}

func (p Ptr) String() string {
	if p.Tag == TagNum {
		return fmt.Sprintf("%s(%s)", p.Tag, p.Val.String())
	}
	return fmt.Sprintf("%s(%s…)", p.Tag, p.Val.Text(16)[:minInt(8, len(p.Val.Text(16)))])
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// State is the complete machine configuration of the reducer: the control
// expression, its environment, and the continuation.
type State struct {
	Expr Ptr
	Env  Ptr
	Cont Ptr
}

// StateWidth is the number of field elements in a flattened State.
const StateWidth = 6

// Equal reports componentwise pointer equality.
func (s State) Equal(o State) bool {
	return s.Expr.Equal(o.Expr) && s.Env.Equal(o.Env) && s.Cont.Equal(o.Cont)
}

// Fields flattens the state into the uniform vector consumed by the step
// circuit: (expr tag, expr val, env tag, env val, cont tag, cont val).
func (s State) Fields() [StateWidth]fr.Element {
	return [StateWidth]fr.Element{
		s.Expr.Tag.Field(), s.Expr.Val,
		s.Env.Tag.Field(), s.Env.Val,
		s.Cont.Tag.Field(), s.Cont.Val,
	}
}

// Digest collapses the flattened state into a single field element. This is
// the boundary digest carried by proof artifacts.
func (s State) Digest() fr.Element {
	f := s.Fields()
	return HashFields(f[:]...)
}
