package tokens

// Waiters reports how many callers are inside an [AwaitInFlight] refresh.
func (r *Refresher) Waiters() int {
	return int(r.waiting.Load())
}
