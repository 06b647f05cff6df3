package prove

import (
	"fmt"

	"github.com/zklisp/zklisp/nova"
	"github.com/zklisp/zklisp/store"
)

// Verify checks a proof against the claim it carries. Beyond replaying
// the fold transcript and checking the final accumulator opening, it
// checks that every multi-frame boundary chains into one contiguous trace
// starting at the claimed input state and ending at the claimed output
// state, and that the step accounting is consistent.
func Verify(params *PublicParams, proof *Proof) error {
	if proof.Nova == nil {
		return fmt.Errorf("%w: missing accumulator", ErrBoundaryMismatch)
	}
	if proof.F != params.F {
		return fmt.Errorf("%w: proof built for F=%d, parameters for F=%d",
			nova.ErrShapeMismatch, proof.F, params.F)
	}
	steps := proof.Nova.Steps
	if len(steps) == 0 {
		return nova.ErrEmptyAccumulator
	}
	if ExpectedTotalIterations(proof.Steps, proof.F) != len(steps)*proof.F {
		return fmt.Errorf("%w: step accounting", ErrBoundaryMismatch)
	}

	// each multi-frame exposes its input and output state as public input
	const width = store.StateWidth
	for k := range steps {
		if len(steps[k].X) != 2*width {
			return fmt.Errorf("%w: multi-frame %d public width", nova.ErrShapeMismatch, k)
		}
	}
	in := proof.Input.Fields()
	out := proof.Output.Fields()
	first, last := steps[0].X, steps[len(steps)-1].X
	for i := 0; i < width; i++ {
		if !first[i].Equal(&in[i]) {
			return fmt.Errorf("%w: input state", ErrBoundaryMismatch)
		}
		if !last[width+i].Equal(&out[i]) {
			return fmt.Errorf("%w: output state", ErrBoundaryMismatch)
		}
	}
	for k := 1; k < len(steps); k++ {
		prev, cur := steps[k-1].X, steps[k].X
		for i := 0; i < width; i++ {
			if !prev[width+i].Equal(&cur[i]) {
				return fmt.Errorf("%w: multi-frame %d", ErrChainMismatch, k)
			}
		}
	}

	return proof.Nova.Verify(params.Shape, params.Key)
}
