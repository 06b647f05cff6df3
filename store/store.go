// Package store implements the hash-consed arena backing the reducer.
// Every language value is addressed by a fixed-size (tag, field element)
// pointer; compound values hash their children with MiMC over the BN254
// scalar field, the same permutation the step circuit evaluates in-circuit.
package store

import (
	"errors"
	"fmt"
	"sync"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr/mimc"
)

// ErrNotFound is returned when a pointer is resolved against a store that
// never interned it. This is a programmer error, always fatal.
var ErrNotFound = errors.New("store: pointer not found")

// Store is an append-only hash-consing table. Entries are never mutated or
// removed; the lifetime of an entry is the whole proving session. It is
// safe for concurrent use: reads take the shared lock, and concurrent
// interning of the same value converges on the identical pointer because
// content equality implies digest equality.
type Store struct {
	mu sync.RWMutex

	// digest -> children, for compound values
	children map[Ptr][]Ptr

	// interned symbol and string names, both directions
	names    map[Ptr]string
	interned map[string]Ptr
}

// New returns an empty store.
func New() *Store {
	return &Store{
		children: make(map[Ptr][]Ptr),
		names:    make(map[Ptr]string),
		interned: make(map[string]Ptr),
	}
}

// HashFields absorbs field elements into MiMC and returns the digest as a
// field element. The circuit layer recomputes the same function with the
// gnark std MiMC gadget, so native and in-circuit digests agree.
func HashFields(elts ...fr.Element) fr.Element {
	h := mimc.NewMiMC()
	for i := range elts {
		b := elts[i].Bytes()
		_, _ = h.Write(b[:])
	}
	var out fr.Element
	out.SetBytes(h.Sum(nil))
	return out
}

func hashPtrs(ptrs ...Ptr) fr.Element {
	elts := make([]fr.Element, 0, 2*len(ptrs))
	for _, p := range ptrs {
		f := p.Fields()
		elts = append(elts, f[0], f[1])
	}
	return HashFields(elts...)
}

// intern records children under the computed pointer and returns it. The
// write is idempotent: re-interning identical content always produces the
// identical pointer.
func (s *Store) intern(tag Tag, children ...Ptr) Ptr {
	p := Ptr{Tag: tag, Val: hashPtrs(children...)}
	s.mu.Lock()
	if _, ok := s.children[p]; !ok {
		cp := make([]Ptr, len(children))
		copy(cp, children)
		s.children[p] = cp
	}
	s.mu.Unlock()
	return p
}

// Resolve returns the children of a compound pointer. Atom pointers have no
// children and resolve to an empty slice. An unknown compound pointer
// yields ErrNotFound.
func (s *Store) Resolve(p Ptr) ([]Ptr, error) {
	if p.Tag.IsAtom() || p.Tag == TagSym || p.Tag == TagStr {
		return nil, nil
	}
	s.mu.RLock()
	c, ok := s.children[p]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, p)
	}
	return c, nil
}

// Nil returns the nil pointer; its scalar is inline zero.
func (s *Store) Nil() Ptr { return Ptr{Tag: TagNil} }

// Num interns an unsigned integer as a field-element number atom.
func (s *Store) Num(v uint64) Ptr {
	var e fr.Element
	e.SetUint64(v)
	return Ptr{Tag: TagNum, Val: e}
}

// NumField interns a raw field element as a number atom.
func (s *Store) NumField(e fr.Element) Ptr {
	return Ptr{Tag: TagNum, Val: e}
}

// Bool interns a boolean atom, 0 or 1 inline.
func (s *Store) Bool(b bool) Ptr {
	var e fr.Element
	if b {
		e.SetOne()
	}
	return Ptr{Tag: TagBool, Val: e}
}

// Char interns a character atom with its code point inline.
func (s *Store) Char(r rune) Ptr {
	var e fr.Element
	e.SetUint64(uint64(r))
	return Ptr{Tag: TagChar, Val: e}
}

// hashName folds a name's bytes into field elements and digests them,
// domain-separated by tag, so structurally identical names intern to the
// same pointer in any store.
func hashName(tag Tag, name string) fr.Element {
	b := []byte(name)
	elts := make([]fr.Element, 0, len(b)/31+3)
	var length fr.Element
	length.SetUint64(uint64(len(b)))
	elts = append(elts, tag.Field(), length)
	for len(b) > 0 {
		n := minInt(31, len(b))
		var e fr.Element
		e.SetBytes(b[:n])
		elts = append(elts, e)
		b = b[n:]
	}
	return HashFields(elts...)
}

func (s *Store) internNamed(tag Tag, name string) Ptr {
	p := Ptr{Tag: tag, Val: hashName(tag, name)}
	s.mu.Lock()
	s.names[p] = name
	s.interned[tag.String()+":"+name] = p
	s.mu.Unlock()
	return p
}

// Sym interns a symbol by name.
func (s *Store) Sym(name string) Ptr { return s.internNamed(TagSym, name) }

// Str interns a string value.
func (s *Store) Str(v string) Ptr { return s.internNamed(TagStr, v) }

// NameOf returns the name behind a symbol or string pointer.
func (s *Store) NameOf(p Ptr) (string, bool) {
	s.mu.RLock()
	n, ok := s.names[p]
	s.mu.RUnlock()
	return n, ok
}

// Cons interns a pair.
func (s *Store) Cons(car, cdr Ptr) Ptr {
	return s.intern(TagCons, car, cdr)
}

// List interns a nil-terminated list.
func (s *Store) List(elts ...Ptr) Ptr {
	out := s.Nil()
	for i := len(elts) - 1; i >= 0; i-- {
		out = s.Cons(elts[i], out)
	}
	return out
}

// Car and Cdr project a pair. Projecting a non-pair is a store-level
// misuse and returns ErrNotFound through Resolve.
func (s *Store) Car(p Ptr) (Ptr, error) {
	c, err := s.Resolve(p)
	if err != nil {
		return Ptr{}, err
	}
	if len(c) != 2 {
		return Ptr{}, fmt.Errorf("%w: car of %s", ErrNotFound, p)
	}
	return c[0], nil
}

func (s *Store) Cdr(p Ptr) (Ptr, error) {
	c, err := s.Resolve(p)
	if err != nil {
		return Ptr{}, err
	}
	if len(c) != 2 {
		return Ptr{}, fmt.Errorf("%w: cdr of %s", ErrNotFound, p)
	}
	return c[1], nil
}

// Fun interns a closure over (params, body, env).
func (s *Store) Fun(params, body, env Ptr) Ptr {
	return s.intern(TagFun, params, body, env)
}

// FunParts projects a closure.
func (s *Store) FunParts(p Ptr) (params, body, env Ptr, err error) {
	c, err := s.Resolve(p)
	if err != nil {
		return Ptr{}, Ptr{}, Ptr{}, err
	}
	if p.Tag != TagFun || len(c) != 3 {
		return Ptr{}, Ptr{}, Ptr{}, fmt.Errorf("%w: fun parts of %s", ErrNotFound, p)
	}
	return c[0], c[1], c[2], nil
}

// Thunk wraps a value so it can re-enter the machine as a value position
// without being re-dispatched as a form.
func (s *Store) Thunk(v Ptr) Ptr {
	return s.intern(TagThunk, v)
}

// ThunkVal projects the wrapped value.
func (s *Store) ThunkVal(p Ptr) (Ptr, error) {
	c, err := s.Resolve(p)
	if err != nil {
		return Ptr{}, err
	}
	if p.Tag != TagThunk || len(c) != 1 {
		return Ptr{}, fmt.Errorf("%w: thunk value of %s", ErrNotFound, p)
	}
	return c[0], nil
}

// EmptyEnv returns the initial empty environment, which is nil.
func (s *Store) EmptyEnv() Ptr { return s.Nil() }

// ExtendEnv pushes one (symbol, value) binding onto an environment chain.
// The tail is shared structurally, never copied.
func (s *Store) ExtendEnv(env, sym, val Ptr) Ptr {
	return s.Cons(s.Cons(sym, val), env)
}

// LookupEnv resolves a symbol through the binding chain, nearest binding
// shadowing. The boolean reports whether the symbol was bound.
func (s *Store) LookupEnv(env, sym Ptr) (Ptr, bool, error) {
	for !env.Equal(s.Nil()) {
		pair, err := s.Car(env)
		if err != nil {
			return Ptr{}, false, err
		}
		bound, err := s.Car(pair)
		if err != nil {
			return Ptr{}, false, err
		}
		if bound.Equal(sym) {
			v, err := s.Cdr(pair)
			if err != nil {
				return Ptr{}, false, err
			}
			return v, true, nil
		}
		env, err = s.Cdr(env)
		if err != nil {
			return Ptr{}, false, err
		}
	}
	return Ptr{}, false, nil
}

// Cont interns a continuation of the given kind. Continuation digests are
// always computed over ContWidth child slots, the unused tail padded with
// nil pointers, so the circuit opens any continuation with one fixed-shape
// hash.
func (s *Store) Cont(tag Tag, children ...Ptr) Ptr {
	if !tag.IsCont() {
		panic("store: Cont called with non-continuation tag " + tag.String())
	}
	if len(children) != contArity(tag) {
		panic(fmt.Sprintf("store: %s expects %d children, got %d", tag, contArity(tag), len(children)))
	}
	padded := make([]Ptr, ContWidth)
	copy(padded, children)
	return s.intern(tag, padded...)
}

// ContChildren opens a continuation into its fixed-width child slots.
func (s *Store) ContChildren(p Ptr) ([ContWidth]Ptr, error) {
	var out [ContWidth]Ptr
	if !p.Tag.IsCont() {
		return out, fmt.Errorf("%w: %s is not a continuation", ErrNotFound, p)
	}
	c, err := s.Resolve(p)
	if err != nil {
		return out, err
	}
	copy(out[:], c)
	return out, nil
}

// Outermost and Terminal are the distinguished continuations bounding a
// complete evaluation.
func (s *Store) Outermost() Ptr { return s.Cont(TagOuterCont) }
func (s *Store) Terminal() Ptr  { return s.Cont(TagTerminalCont) }

// ErrorCont wraps a language-level error code into a continuation, so the
// trace remains total and the erroring final state stays provable.
func (s *Store) ErrorCont(code Ptr) Ptr { return s.Cont(TagErrorCont, code) }

// NumEntries reports the number of compound entries interned so far.
func (s *Store) NumEntries() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.children)
}

// Hydrate pre-interns the transitive children of the given roots into a
// fresh store, so digests computed against either store agree. Used when a
// trace produced in one store must be replayed against another.
func (s *Store) Hydrate(dst *Store, roots ...Ptr) error {
	for _, p := range roots {
		if p.Tag.IsAtom() {
			continue
		}
		c, err := s.Resolve(p)
		if err != nil {
			return err
		}
		if name, ok := s.NameOf(p); ok {
			dst.mu.Lock()
			dst.names[p] = name
			dst.interned[p.Tag.String()+":"+name] = p
			dst.mu.Unlock()
		}
		if len(c) > 0 {
			dst.mu.Lock()
			if _, ok := dst.children[p]; !ok {
				cp := make([]Ptr, len(c))
				copy(cp, c)
				dst.children[p] = cp
			}
			dst.mu.Unlock()
			if err := s.Hydrate(dst, c...); err != nil {
				return err
			}
		}
	}
	return nil
}
