package mdot

// Invert returns the operation that undoes o, given the base string o was
// originally applied to. Applying o then Invert(base) to the result
// reproduces base exactly; this is what the session's undo stack composes
// against (see pkg/session).
func (o *TextOperation) Invert(base string) *TextOperation {
	units := toUTF16(base)
	inverse := NewOperation()
	cursor := 0
	for _, atom := range o.ops {
		switch a := atom.(type) {
		case Retain:
			inverse.Retain(a.N)
			cursor += int(a.N)
		case Insert:
			inverse.Delete(uint64(utf16Len(a.Text)))
		case Delete:
			inverse.Insert(fromUTF16(units[cursor : cursor+int(a.N)]))
			cursor += int(a.N)
		}
	}
	return inverse
}
