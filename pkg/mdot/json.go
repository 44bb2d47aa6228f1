package mdot

import (
	"encoding/json"
	"fmt"
)

// ToJSON renders the operation in its wire form: an array whose elements
// are a positive integer for a retain, a negative integer for a delete
// (its magnitude), or a string for an insert.
func (o *TextOperation) ToJSON() ([]byte, error) {
	elems := make([]any, 0, len(o.ops))
	for _, atom := range o.ops {
		switch a := atom.(type) {
		case Retain:
			elems = append(elems, a.N)
		case Insert:
			elems = append(elems, a.Text)
		case Delete:
			elems = append(elems, -int64(a.N))
		}
	}
	return json.Marshal(elems)
}

// MarshalJSON implements json.Marshaler using the wire form.
func (o *TextOperation) MarshalJSON() ([]byte, error) { return o.ToJSON() }

// FromJSON parses the wire form produced by ToJSON, rebuilding the
// operation through the builder so canonical form is re-established. An
// element that is neither a number nor a string fails with ErrWireFormat.
func FromJSON(data []byte) (*TextOperation, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("mdot: decode wire array: %w", err)
	}

	op := NewOperation()
	for _, elem := range raw {
		var s string
		if err := json.Unmarshal(elem, &s); err == nil {
			op.Insert(s)
			continue
		}
		var n int64
		if err := json.Unmarshal(elem, &n); err == nil {
			if n >= 0 {
				op.Retain(uint64(n))
			} else {
				op.Delete(uint64(-n))
			}
			continue
		}
		return nil, fmt.Errorf("mdot: element %s: %w", string(elem), ErrWireFormat)
	}
	return op, nil
}

// UnmarshalJSON implements json.Unmarshaler using the wire form.
func (o *TextOperation) UnmarshalJSON(data []byte) error {
	parsed, err := FromJSON(data)
	if err != nil {
		return err
	}
	*o = *parsed
	return nil
}
