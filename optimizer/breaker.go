package optimizer

// failureBreaker ends a search direction after limit consecutive failed
// trials. Any successful trial closes it again.
type failureBreaker struct {
	limit int
	count int
}

func newFailureBreaker(limit int) *failureBreaker {
	return &failureBreaker{limit: limit}
}

// Record notes a trial outcome and reports whether the breaker tripped
func (b *failureBreaker) Record(success bool) bool {
	if success {
		b.count = 0
		return false
	}
	b.count++
	return b.count >= b.limit
}
