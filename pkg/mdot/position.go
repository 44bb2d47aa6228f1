package mdot

// TransformPosition maps pos, a position in op's base string, through op to
// the corresponding position in op's target string. insertBefore controls
// the left-hand tie-break: when op inserts text exactly at pos, the
// position is pushed forward past the insertion only if insertBefore is
// true. The returned position is always in [0, op.TargetLength()].
func TransformPosition(pos uint64, op *TextOperation, insertBefore bool) uint64 {
	remaining := pos // base units still to consume before reaching pos
	out := uint64(0) // accumulated target position

	for _, atom := range op.Ops() {
		switch a := atom.(type) {
		case Retain:
			switch {
			case remaining < a.N:
				return out + remaining
			case remaining == a.N:
				out += a.N
				remaining = 0
			default:
				out += a.N
				remaining -= a.N
			}
		case Insert:
			n := uint64(utf16Len(a.Text))
			if remaining > 0 {
				out += n
				continue
			}
			// remaining == 0: pos sits exactly at this insertion point.
			if insertBefore {
				out += n
			}
		case Delete:
			switch {
			case remaining < a.N:
				// pos fell inside the deleted span; clamp to the delete's start.
				return out
			case remaining == a.N:
				remaining = 0
			default:
				remaining -= a.N
			}
		}
	}
	return out
}
