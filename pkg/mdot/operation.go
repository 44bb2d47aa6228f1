// Package mdot implements the TextOperation primitive of an Operational
// Transformation (OT) text editing system: an immutable-once-published
// sequence of retain/insert/delete atoms that can be applied to a string,
// composed with a following operation, and transformed against a concurrent
// sibling operation.
//
// Position and length arithmetic is performed in UTF-16 code units, matching
// the reference implementation this client is wire-compatible with. A
// TextOperation built over one encoding must never be applied to a string
// measured in another.
package mdot

import (
	"unicode/utf16"
)

// Retain advances n UTF-16 code units of the base operand unchanged.
type Retain struct{ N uint64 }

// Insert inserts Text, a non-empty string, at the current cursor.
type Insert struct{ Text string }

// Delete removes n UTF-16 code units from the base operand.
type Delete struct{ N uint64 }

// Atom is the closed set of TextOperation elements.
type Atom interface {
	isAtom()
}

func (Retain) isAtom() {}
func (Insert) isAtom() {}
func (Delete) isAtom() {}

// TextOperation is an ordered sequence of atoms in canonical form: no two
// adjacent atoms share a variant, and an Insert that directly follows a
// Delete at the same cursor position is reordered ahead of it.
//
// A TextOperation is safe to read concurrently once returned from a
// builder method; Compose and Transform always return new values rather
// than mutating their operands in place.
type TextOperation struct {
	ops       []Atom
	baseLen   uint64
	targetLen uint64
}

// NewOperation returns an empty, no-op TextOperation ready for building.
func NewOperation() *TextOperation {
	return &TextOperation{}
}

// WithCapacity returns an empty TextOperation whose atom slice is
// pre-allocated for n atoms, to avoid reallocation while building large
// operations (e.g. macro document rewrites).
func WithCapacity(n int) *TextOperation {
	return &TextOperation{ops: make([]Atom, 0, n)}
}

// BaseLength returns the length, in UTF-16 code units, of strings this
// operation may be applied to.
func (o *TextOperation) BaseLength() uint64 { return o.baseLen }

// TargetLength returns the length, in UTF-16 code units, of strings this
// operation produces.
func (o *TextOperation) TargetLength() uint64 { return o.targetLen }

// Ops returns the canonical atom sequence. The returned slice must not be
// mutated by the caller.
func (o *TextOperation) Ops() []Atom { return o.ops }

// IsNoop reports whether applying this operation leaves its argument
// unchanged: either no atoms at all, or a single Retain spanning the whole
// base.
func (o *TextOperation) IsNoop() bool {
	if len(o.ops) == 0 {
		return true
	}
	if len(o.ops) == 1 {
		_, ok := o.ops[0].(Retain)
		return ok
	}
	return false
}

func utf16Len(s string) int {
	n := 0
	for _, r := range s {
		if r > 0xFFFF {
			n += 2
		} else {
			n++
		}
	}
	return n
}

func toUTF16(s string) []uint16 {
	return utf16.Encode([]rune(s))
}

func fromUTF16(units []uint16) string {
	return string(utf16.Decode(units))
}

// Retain appends a retain of n code units, merging with a trailing Retain
// atom if one is already present. It is a no-op for n == 0.
func (o *TextOperation) Retain(n uint64) *TextOperation {
	if n == 0 {
		return o
	}
	o.baseLen += n
	o.targetLen += n
	if last, ok := o.lastAtom().(Retain); ok {
		o.ops[len(o.ops)-1] = Retain{N: last.N + n}
		return o
	}
	o.ops = append(o.ops, Retain{N: n})
	return o
}

// Insert appends an insertion of s, merging with a trailing Insert atom,
// and reordering ahead of a trailing Delete atom so the canonical form
// keeps inserts before deletes at the same cursor position. It is a no-op
// for an empty string.
func (o *TextOperation) Insert(s string) *TextOperation {
	if s == "" {
		return o
	}
	o.targetLen += uint64(utf16Len(s))

	n := len(o.ops)
	if n > 0 {
		if last, ok := o.ops[n-1].(Insert); ok {
			o.ops[n-1] = Insert{Text: last.Text + s}
			return o
		}
		if _, ok := o.ops[n-1].(Delete); ok {
			// Insert-before-delete canonical ordering: if the atom before
			// the trailing delete is itself an insert, merge into it;
			// otherwise splice the new insert in ahead of the delete.
			if n > 1 {
				if prev, ok := o.ops[n-2].(Insert); ok {
					o.ops[n-2] = Insert{Text: prev.Text + s}
					return o
				}
			}
			del := o.ops[n-1]
			o.ops[n-1] = Insert{Text: s}
			o.ops = append(o.ops, del)
			return o
		}
	}
	o.ops = append(o.ops, Insert{Text: s})
	return o
}

// Delete appends a deletion of n code units, merging with a trailing
// Delete atom if present. It is a no-op for n == 0.
func (o *TextOperation) Delete(n uint64) *TextOperation {
	if n == 0 {
		return o
	}
	o.baseLen += n
	if last, ok := o.lastAtom().(Delete); ok {
		o.ops[len(o.ops)-1] = Delete{N: last.N + n}
		return o
	}
	o.ops = append(o.ops, Delete{N: n})
	return o
}

func (o *TextOperation) lastAtom() Atom {
	if len(o.ops) == 0 {
		return nil
	}
	return o.ops[len(o.ops)-1]
}

// Clone returns a deep-enough copy of o (the atom slice is copied; atoms
// themselves are value types) safe to build on independently.
func (o *TextOperation) Clone() *TextOperation {
	c := &TextOperation{
		ops:       make([]Atom, len(o.ops)),
		baseLen:   o.baseLen,
		targetLen: o.targetLen,
	}
	copy(c.ops, o.ops)
	return c
}
