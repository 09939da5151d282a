// Package pattern matches token lists, such as the words of a console command.
package pattern

type (
	Matcher[T any, E ~[]T] interface {
		// Match reports if the head of input matches and returns what is left.
		Match(input E) (bool, E)
	}

	equalityMatcher[T comparable, E ~[]T] struct {
		expected T
	}

	restMatcher[T any, E ~[]T] struct {
		atLeast int
	}

	all[T any, E ~[]T] struct {
		matchers []Matcher[T, E]
	}
)

func (em equalityMatcher[T, E]) Match(input E) (bool, E) {
	switch {
	case len(input) == 0:
		return false, input
	default:
		equal := input[0] == em.expected
		if !equal {
			return false, input
		}
		return true, input[1:]
	}
}

func (rm restMatcher[T, E]) Match(input E) (bool, E) {
	if len(input) < rm.atLeast {
		return false, input
	}
	return true, input[len(input):]
}

func (m all[T, E]) Match(input E) (bool, E) {
	for _, m := range m.matchers {
		var match bool
		match, input = m.Match(input)
		if !match {
			return false, input
		}
	}
	return len(input) == 0, input
}

func All[T any, E ~[]T](entries ...Matcher[T, E]) Matcher[T, E] {
	return all[T, E]{matchers: entries}
}

func Equal[T comparable](expected T) Matcher[T, []T] {
	return equalityMatcher[T, []T]{expected: expected}
}

// Rest consumes whatever is left, as long as there are at least atLeast items.
func Rest[T any](atLeast int) Matcher[T, []T] {
	return restMatcher[T, []T]{atLeast: atLeast}
}

func Prefix[T comparable](prefix []T, tail Matcher[T, []T]) Matcher[T, []T] {
	head := make([]Matcher[T, []T], len(prefix))
	for i, v := range prefix {
		head[i] = Equal(v)
	}
	if tail != nil {
		head = append(head, tail)
	}
	return All[T, []T](head...)
}

// Match reports if input is fully consumed by matchers, applied in order.
func Match[T any](input []T, matchers ...Matcher[T, []T]) bool {
	if len(matchers) == 1 {
		m, rest := matchers[0].Match(input)
		return m && len(rest) == 0
	}
	m, _ := All[T](matchers...).Match(input)
	return m
}
