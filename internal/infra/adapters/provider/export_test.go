package provider

// InFlight reports how many noop tasks still hold a poll counter.
func (n *NoopProvider) InFlight() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.seen)
}
