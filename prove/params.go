// Package prove orchestrates a proving session: evaluate the program,
// batch the trace into multi-frames, synthesize their circuit witnesses
// in parallel, fold them in trace order, and compress the accumulator
// into a verifiable artifact.
package prove

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/constraint"
	cs "github.com/consensys/gnark/constraint/bn254"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/frontend/cs/r1cs"
	"github.com/consensys/gnark/logger"

	"github.com/zklisp/zklisp/circuit"
	"github.com/zklisp/zklisp/nova"
)

// PublicParams bundles what prover and verifier share for one multi-frame
// size: the compiled step circuit, its folding shape, and the commitment
// key derived from the shape digest.
type PublicParams struct {
	F     int
	CCS   constraint.ConstraintSystem
	Shape *nova.Shape
	Key   *nova.CommitmentKey
}

// Setup compiles the step circuit for multi-frames of f reduction steps
// and derives the folding artifacts. Identical f yields identical shape
// digests and therefore identical keys, in any process.
func Setup(f int) (*PublicParams, error) {
	if f <= 0 {
		return nil, fmt.Errorf("prove: multi-frame size must be positive, got %d", f)
	}
	ccs, err := frontend.Compile(ecc.BN254.ScalarField(), r1cs.NewBuilder, circuit.NewStepCircuit(f))
	if err != nil {
		return nil, fmt.Errorf("prove: compile step circuit: %w", err)
	}
	return paramsFromCCS(f, ccs)
}

func paramsFromCCS(f int, ccs constraint.ConstraintSystem) (*PublicParams, error) {
	shape, err := nova.FromR1CS(ccs)
	if err != nil {
		return nil, err
	}
	n := shape.NumWitness
	if shape.NumConstraints > n {
		n = shape.NumConstraints
	}
	key, err := nova.NewCommitmentKey(n, shape.Digest())
	if err != nil {
		return nil, err
	}
	log := logger.Logger()
	log.Debug().Int("f", f).
		Int("constraints", shape.NumConstraints).
		Hex("shapeDigest", shape.Digest()).
		Msg("public parameters ready")
	return &PublicParams{F: f, CCS: ccs, Shape: shape, Key: key}, nil
}

// ParamCache memoizes public parameters by multi-frame size. Sessions
// share one handle; with a cache directory set, compiled circuits also
// persist across processes and are reloaded instead of recompiled.
type ParamCache struct {
	mu     sync.Mutex
	dir    string
	params map[int]*PublicParams
}

// NewParamCache returns a cache. dir may be empty for memory-only use.
func NewParamCache(dir string) *ParamCache {
	return &ParamCache{dir: dir, params: make(map[int]*PublicParams)}
}

// Get returns the parameters for multi-frame size f, generating and
// persisting them on first use.
func (c *ParamCache) Get(f int) (*PublicParams, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.params[f]; ok {
		return p, nil
	}
	if p, err := c.load(f); err == nil {
		c.params[f] = p
		return p, nil
	}
	p, err := Setup(f)
	if err != nil {
		return nil, err
	}
	if c.dir != "" {
		if err := c.persist(f, p); err != nil {
			log := logger.Logger()
			log.Warn().Err(err).Int("f", f).
				Msg("persisting public parameters failed; continuing in memory")
		}
	}
	c.params[f] = p
	return p, nil
}

func (c *ParamCache) path(f int) string {
	return filepath.Join(c.dir, fmt.Sprintf("step-f%d.r1cs", f))
}

func (c *ParamCache) load(f int) (*PublicParams, error) {
	if c.dir == "" {
		return nil, os.ErrNotExist
	}
	file, err := os.Open(c.path(f))
	if err != nil {
		return nil, err
	}
	defer file.Close()
	ccs := &cs.R1CS{}
	if _, err := ccs.ReadFrom(file); err != nil {
		return nil, fmt.Errorf("prove: read cached circuit: %w", err)
	}
	return paramsFromCCS(f, ccs)
}

func (c *ParamCache) persist(f int, p *PublicParams) error {
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return err
	}
	tmp := c.path(f) + ".tmp"
	file, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := p.CCS.WriteTo(file); err != nil {
		file.Close()
		os.Remove(tmp)
		return err
	}
	if err := file.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, c.path(f))
}
