package store

import (
	"fmt"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
)

// Tag identifies the syntactic kind of a stored value. Expression tags and
// continuation tags share one namespace so that a State can be flattened
// into a uniform field-element vector.
type Tag uint8

const (
	// expression tags
	TagNil Tag = iota
	TagCons
	TagSym
	TagFun
	TagNum
	TagStr
	TagChar
	TagBool
	TagThunk

	// continuation tags
	TagOuterCont
	TagTerminalCont
	TagErrorCont
	TagCallCont
	TagCall2Cont
	TagLetCont
	TagIfCont
	TagBinop1Cont
	TagBinop2Cont
	TagEmitCont

	numTags
)

// NumTags is the size of the closed tag namespace.
const NumTags = int(numTags)

var tagNames = [NumTags]string{
	"nil", "cons", "sym", "fun", "num", "str", "char", "bool", "thunk",
	"cont.outer", "cont.terminal", "cont.error", "cont.call", "cont.call2",
	"cont.let", "cont.if", "cont.binop1", "cont.binop2", "cont.emit",
}

func (t Tag) String() string {
	if int(t) < NumTags {
		return tagNames[t]
	}
	return fmt.Sprintf("tag(%d)", uint8(t))
}

// IsCont reports whether the tag denotes a continuation kind.
func (t Tag) IsCont() bool {
	return t >= TagOuterCont
}

// IsAtom reports whether values of this tag carry their scalar inline
// instead of a content hash.
func (t Tag) IsAtom() bool {
	switch t {
	case TagNil, TagNum, TagChar, TagBool:
		return true
	}
	return false
}

// SelfEvaluating reports whether an expression of this tag reduces to
// itself.
func (t Tag) SelfEvaluating() bool {
	switch t {
	case TagNil, TagFun, TagNum, TagStr, TagChar, TagBool:
		return true
	}
	return false
}

// Field returns the field-element encoding of the tag, used both for
// hashing and as a circuit input.
func (t Tag) Field() fr.Element {
	var e fr.Element
	e.SetUint64(uint64(t))
	return e
}

// contArity is the number of child pointer slots a continuation of each
// kind carries. Continuation digests are always computed over ContWidth
// slots, the unused tail padded with zero pointers, so the circuit can
// open any continuation with a single fixed-shape hash.
const ContWidth = 5

func contArity(t Tag) int {
	switch t {
	case TagOuterCont, TagTerminalCont:
		return 0
	case TagErrorCont:
		return 1
	case TagEmitCont:
		return 1
	case TagIfCont:
		return 4
	case TagCallCont:
		return 3
	case TagCall2Cont:
		return 4
	case TagLetCont:
		return 5
	case TagBinop1Cont:
		return 4
	case TagBinop2Cont:
		return 3
	}
	return 0
}
