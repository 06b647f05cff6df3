package nova

import (
	"encoding/binary"
	"fmt"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark-crypto/ecc/bn254"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
)

const keyDomain = "zklisp-pedersen-v1"

// CommitmentKey is a Pedersen basis over G1. The basis is a deterministic
// function of its label via hash-to-curve, so prover and verifier derive
// identical keys without a setup ceremony, and no party knows discrete-log
// relations between the generators.
type CommitmentKey struct {
	Gens []bn254.G1Affine
}

// NewCommitmentKey derives n generators from the label, typically the
// shape digest.
func NewCommitmentKey(n int, label []byte) (*CommitmentKey, error) {
	k := &CommitmentKey{Gens: make([]bn254.G1Affine, n)}
	msg := make([]byte, len(label)+8)
	copy(msg, label)
	for i := range k.Gens {
		binary.BigEndian.PutUint64(msg[len(label):], uint64(i))
		g, err := bn254.HashToG1(msg, []byte(keyDomain))
		if err != nil {
			return nil, fmt.Errorf("nova: derive generator %d: %w", i, err)
		}
		k.Gens[i] = g
	}
	return k, nil
}

// Commit computes the multi-scalar product of the vector against the
// basis. The commitment is homomorphic, which is what folding relies on:
// Commit(a) + r*Commit(b) == Commit(a + r*b).
func (k *CommitmentKey) Commit(v []fr.Element) (bn254.G1Affine, error) {
	var out bn254.G1Affine
	if len(v) > len(k.Gens) {
		return out, fmt.Errorf("nova: vector length %d exceeds key size %d", len(v), len(k.Gens))
	}
	var acc bn254.G1Jac
	if _, err := acc.MultiExp(k.Gens[:len(v)], v, ecc.MultiExpConfig{}); err != nil {
		return out, fmt.Errorf("nova: commit: %w", err)
	}
	out.FromJacobian(&acc)
	return out, nil
}
