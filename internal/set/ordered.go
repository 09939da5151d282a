package set

type (
	Set[T comparable] interface {
		Add(T) bool
		Remove(T) bool
		Has(T) bool
		Len() int
	}

	// Ordered keeps items in insertion order and ignores duplicates.
	//
	// It is not safe for concurrent use, callers guard it.
	Ordered[T comparable] struct {
		items []T
	}
)

var _ Set[int] = (*Ordered[int])(nil)

func (o *Ordered[T]) Len() int { return len(o.items) }

func (o *Ordered[T]) Has(item T) bool {
	for _, v := range o.items {
		if v == item {
			return true
		}
	}
	return false
}

func (o *Ordered[T]) Add(item T) bool {
	if o.Has(item) {
		return false
	}
	o.items = append(o.items, item)
	return true
}

func (o *Ordered[T]) Remove(item T) bool {
	for i, v := range o.items {
		if v == item {
			var zero T
			all := o.items
			o.items = append(o.items[:i], o.items[i+1:]...)
			all[len(all)-1] = zero
			return true
		}
	}
	return false
}

// Snapshot appends the items to out, preserving order. The returned slice
// does not alias the set.
func (o *Ordered[T]) Snapshot(out []T) []T {
	return append(out, o.items...)
}
