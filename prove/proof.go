package prove

import (
	"fmt"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/fxamacker/cbor/v2"

	"github.com/zklisp/zklisp/nova"
	"github.com/zklisp/zklisp/store"
)

type ptrWire struct {
	Tag uint8  `cbor:"1,keyasint"`
	Val []byte `cbor:"2,keyasint"`
}

type stateWire struct {
	Expr ptrWire `cbor:"1,keyasint"`
	Env  ptrWire `cbor:"2,keyasint"`
	Cont ptrWire `cbor:"3,keyasint"`
}

type proofWire struct {
	Nova   []byte    `cbor:"1,keyasint"`
	F      int       `cbor:"2,keyasint"`
	Steps  int       `cbor:"3,keyasint"`
	Input  stateWire `cbor:"4,keyasint"`
	Output stateWire `cbor:"5,keyasint"`
}

func ptrToWire(p store.Ptr) ptrWire {
	return ptrWire{Tag: uint8(p.Tag), Val: p.Val.Marshal()}
}

func ptrFromWire(w ptrWire) store.Ptr {
	var e fr.Element
	e.SetBytes(w.Val)
	return store.Ptr{Tag: store.Tag(w.Tag), Val: e}
}

func stateToWire(st store.State) stateWire {
	return stateWire{
		Expr: ptrToWire(st.Expr),
		Env:  ptrToWire(st.Env),
		Cont: ptrToWire(st.Cont),
	}
}

func stateFromWire(w stateWire) store.State {
	return store.State{
		Expr: ptrFromWire(w.Expr),
		Env:  ptrFromWire(w.Env),
		Cont: ptrFromWire(w.Cont),
	}
}

// MarshalBinary encodes the proof and its claim as canonical CBOR.
func (p *Proof) MarshalBinary() ([]byte, error) {
	np, err := p.Nova.MarshalBinary()
	if err != nil {
		return nil, err
	}
	return cbor.Marshal(proofWire{
		Nova:   np,
		F:      p.F,
		Steps:  p.Steps,
		Input:  stateToWire(p.Input),
		Output: stateToWire(p.Output),
	})
}

// UnmarshalBinary decodes a proof produced by MarshalBinary.
func (p *Proof) UnmarshalBinary(data []byte) error {
	var wire proofWire
	if err := cbor.Unmarshal(data, &wire); err != nil {
		return fmt.Errorf("prove: decode proof: %w", err)
	}
	np := new(nova.Proof)
	if err := np.UnmarshalBinary(wire.Nova); err != nil {
		return err
	}
	p.Nova = np
	p.F = wire.F
	p.Steps = wire.Steps
	p.Input = stateFromWire(wire.Input)
	p.Output = stateFromWire(wire.Output)
	return nil
}
