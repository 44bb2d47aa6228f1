package mdot

import "fmt"

// Apply runs the operation's atoms against base and returns the resulting
// string. base must have exactly BaseLength UTF-16 code units, or
// ErrLengthMismatch is returned; a Retain or Delete that walks past the end
// of base returns ErrOverRetain.
func (o *TextOperation) Apply(base string) (string, error) {
	units := toUTF16(base)
	if uint64(len(units)) != o.baseLen {
		return "", fmt.Errorf("apply: base has %d units, want %d: %w", len(units), o.baseLen, ErrLengthMismatch)
	}

	result := make([]uint16, 0, o.targetLen)
	cursor := 0
	for _, atom := range o.ops {
		switch a := atom.(type) {
		case Retain:
			end := cursor + int(a.N)
			if end > len(units) {
				return "", fmt.Errorf("apply: retain(%d) at %d overruns base of %d: %w", a.N, cursor, len(units), ErrOverRetain)
			}
			result = append(result, units[cursor:end]...)
			cursor = end
		case Insert:
			result = append(result, toUTF16(a.Text)...)
		case Delete:
			end := cursor + int(a.N)
			if end > len(units) {
				return "", fmt.Errorf("apply: delete(%d) at %d overruns base of %d: %w", a.N, cursor, len(units), ErrOverRetain)
			}
			cursor = end
		}
	}
	return fromUTF16(result), nil
}
