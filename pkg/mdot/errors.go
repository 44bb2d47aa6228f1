package mdot

import "errors"

// Sentinel errors raised by TextOperation methods. Callers should use
// errors.Is against these (apply/compose/transform wrap them with context
// via fmt.Errorf("...: %w", ...)).
var (
	// ErrLengthMismatch is returned by Apply when the base string's length
	// does not equal the operation's BaseLength.
	ErrLengthMismatch = errors.New("mdot: base length mismatch")

	// ErrOverRetain is returned by Apply when a retain walks past the end
	// of the base string.
	ErrOverRetain = errors.New("mdot: retain extends past end of base")

	// ErrComposeLengthMismatch is returned by Compose when this operation's
	// TargetLength does not equal the other operation's BaseLength.
	ErrComposeLengthMismatch = errors.New("mdot: compose length mismatch")

	// ErrComposeUnderrun/ErrComposeOverrun indicate the two operand walks
	// did not consume exactly their declared lengths.
	ErrComposeUnderrun = errors.New("mdot: compose underrun")
	ErrComposeOverrun  = errors.New("mdot: compose overrun")

	// ErrTransformLengthMismatch is returned by Transform when the two
	// operations do not share a BaseLength.
	ErrTransformLengthMismatch = errors.New("mdot: transform length mismatch")

	// ErrTransformIncompatible indicates the two operand walks diverged in
	// a way that cannot be reconciled (should not occur for well-formed
	// operations; surfaced defensively).
	ErrTransformIncompatible = errors.New("mdot: transform incompatible operations")

	// ErrWireFormat is returned by FromJSON when an element of the wire
	// array is neither an integer nor a string.
	ErrWireFormat = errors.New("mdot: unknown wire atom kind")

	// ErrInvalidLength reports an invalid atom length. The builder methods
	// do not return it: Retain(0), Delete(0) and Insert("") are no-ops.
	ErrInvalidLength = errors.New("mdot: invalid atom length")
)
