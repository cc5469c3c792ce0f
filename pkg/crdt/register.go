package crdt

// Register is a last-writer-wins register: the value written with the
// greatest Dot (by Dot.Less) survives a merge. It is commutative,
// associative and idempotent, so replicas converge regardless of
// message order or duplication.
type Register[T any] struct {
	Value T
	Dot   Dot
}

// NewRegister builds a Register holding value, stamped with dot.
func NewRegister[T any](value T, dot Dot) Register[T] {
	return Register[T]{Value: value, Dot: dot}
}

// Merge returns whichever of r and other carries the greater Dot.
func (r Register[T]) Merge(other Register[T]) Register[T] {
	if r.Dot.Less(other.Dot) {
		return other
	}
	return r
}
