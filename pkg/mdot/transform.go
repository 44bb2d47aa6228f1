package mdot

import "fmt"

// Transform produces a commuting pair (aPrime, bPrime) such that applying a
// then bPrime yields the same string as applying b then aPrime. It requires
// a.BaseLength() == b.BaseLength().
//
// Tie-break: when both operations insert text at the same base position,
// a's (the left-hand operand's) insert is placed first — it is emitted
// into aPrime directly, with a matching retain emitted into bPrime so b's
// insert lands after it.
func Transform(a, b *TextOperation) (aPrime, bPrime *TextOperation, err error) {
	if a.baseLen != b.baseLen {
		return nil, nil, fmt.Errorf("transform: base lengths %d != %d: %w", a.baseLen, b.baseLen, ErrTransformLengthMismatch)
	}

	aPrime = NewOperation()
	bPrime = NewOperation()
	c1 := newCursor(a)
	c2 := newCursor(b)

	for {
		x, y := c1.cur, c2.cur
		if x.kind == kindNone && y.kind == kindNone {
			break
		}

		if x.kind == kindInsert {
			aPrime.Insert(fromUTF16(x.units))
			bPrime.Retain(x.length())
			c1.advance()
			continue
		}
		if y.kind == kindInsert {
			aPrime.Retain(y.length())
			bPrime.Insert(fromUTF16(y.units))
			c2.advance()
			continue
		}
		if x.kind == kindNone || y.kind == kindNone {
			return nil, nil, fmt.Errorf("transform: operand exhausted early: %w", ErrTransformIncompatible)
		}

		switch {
		case x.kind == kindRetain && y.kind == kindRetain:
			n := minU64(x.n, y.n)
			aPrime.Retain(n)
			bPrime.Retain(n)
			c1.cur, c2.cur = shrink(x, n), shrink(y, n)
		case x.kind == kindDelete && y.kind == kindDelete:
			// Overlapping deletes cancel; nothing is emitted into either side.
			n := minU64(x.n, y.n)
			c1.cur, c2.cur = shrink(x, n), shrink(y, n)
		case x.kind == kindDelete && y.kind == kindRetain:
			n := minU64(x.n, y.n)
			aPrime.Delete(n)
			c1.cur, c2.cur = shrink(x, n), shrink(y, n)
		case x.kind == kindRetain && y.kind == kindDelete:
			n := minU64(x.n, y.n)
			bPrime.Delete(n)
			c1.cur, c2.cur = shrink(x, n), shrink(y, n)
		default:
			return nil, nil, fmt.Errorf("transform: incompatible atom pair: %w", ErrTransformIncompatible)
		}

		if c1.cur.length() == 0 {
			c1.advance()
		}
		if c2.cur.length() == 0 {
			c2.advance()
		}
	}

	return aPrime, bPrime, nil
}
