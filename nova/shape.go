// Package nova implements a relaxed-R1CS folding accumulator over the
// BN254 scalar field. Many instances of one circuit shape fold into a
// single relaxed instance; the compressed proof is the fold transcript
// plus the opening of the final accumulator, so its size is independent
// of how many reduction steps each instance proved.
package nova

import (
	"encoding/binary"
	"errors"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/gnark/constraint"
	cs "github.com/consensys/gnark/constraint/bn254"
	"golang.org/x/crypto/blake2b"
)

// ErrUnsupportedSystem is returned when the compiled constraint system is
// not a BN254 R1CS.
var ErrUnsupportedSystem = errors.New("nova: constraint system is not a bn254 R1CS")

// Entry is one matrix coefficient.
type Entry struct {
	Col   int
	Coeff fr.Element
}

// SparseMatrix stores one row of entries per constraint.
type SparseMatrix [][]Entry

// MulVec computes the matrix-vector product over the full wire vector.
func (m SparseMatrix) MulVec(z []fr.Element) []fr.Element {
	out := make([]fr.Element, len(m))
	var t fr.Element
	for i, row := range m {
		for _, e := range row {
			t.Mul(&e.Coeff, &z[e.Col])
			out[i].Add(&out[i], &t)
		}
	}
	return out
}

// Shape is the sparse R1CS the folding scheme works over. Wire order is
// the compiler's: the constant-one wire, public inputs, then witness
// wires; relaxation replaces the constant wire with the scalar u.
type Shape struct {
	NumConstraints int
	NumPublic      int // constant-one wire plus public inputs
	NumWitness     int // secret plus internal wires
	A, B, C        SparseMatrix

	digest []byte
}

// FromR1CS extracts the folding shape from a compiled constraint system.
func FromR1CS(ccs constraint.ConstraintSystem) (*Shape, error) {
	r1cs, ok := ccs.(*cs.R1CS)
	if !ok {
		return nil, ErrUnsupportedSystem
	}
	rows := r1cs.GetR1Cs()
	sh := &Shape{
		NumConstraints: len(rows),
		NumPublic:      r1cs.GetNbPublicVariables(),
		NumWitness:     r1cs.GetNbSecretVariables() + r1cs.GetNbInternalVariables(),
		A:              make(SparseMatrix, len(rows)),
		B:              make(SparseMatrix, len(rows)),
		C:              make(SparseMatrix, len(rows)),
	}
	for i := range rows {
		sh.A[i] = toEntries(r1cs, rows[i].L)
		sh.B[i] = toEntries(r1cs, rows[i].R)
		sh.C[i] = toEntries(r1cs, rows[i].O)
	}
	sh.digest = sh.computeDigest()
	return sh, nil
}

func toEntries(r *cs.R1CS, le constraint.LinearExpression) []Entry {
	out := make([]Entry, 0, len(le))
	for _, t := range le {
		out = append(out, Entry{Col: t.WireID(), Coeff: r.Coefficients[t.CoeffID()]})
	}
	return out
}

// Z assembles the full wire vector (u, x, w).
func (s *Shape) Z(u fr.Element, x, w []fr.Element) []fr.Element {
	z := make([]fr.Element, 1+len(x)+len(w))
	z[0] = u
	copy(z[1:], x)
	copy(z[1+len(x):], w)
	return z
}

// Digest content-addresses the shape. Identical circuits compiled in
// separate processes produce identical digests, which keys the parameter
// cache and binds the Fiat-Shamir transcript to this shape.
func (s *Shape) Digest() []byte {
	return s.digest
}

func (s *Shape) computeDigest() []byte {
	h, err := blake2b.New256(nil)
	if err != nil {
		panic(err) // only fails for oversized keys
	}
	var buf [8]byte
	writeInt := func(v int) {
		binary.BigEndian.PutUint64(buf[:], uint64(v))
		h.Write(buf[:])
	}
	writeInt(s.NumConstraints)
	writeInt(s.NumPublic)
	writeInt(s.NumWitness)
	for _, m := range []SparseMatrix{s.A, s.B, s.C} {
		for _, row := range m {
			writeInt(len(row))
			for _, e := range row {
				writeInt(e.Col)
				b := e.Coeff.Bytes()
				h.Write(b[:])
			}
		}
	}
	return h.Sum(nil)
}
