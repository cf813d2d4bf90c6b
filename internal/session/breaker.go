package session

// CircuitBreaker watches the drawdown of the market index from the session open
// value and trips at most once per session.
type CircuitBreaker struct {
	Enabled   bool
	Threshold float64

	openIndex float64
	triggered bool
}

func NewCircuitBreaker(enabled bool, threshold float64) *CircuitBreaker {
	return &CircuitBreaker{Enabled: enabled, Threshold: threshold}
}

// Arm captures the session baseline and clears the triggered flag. Called on open.
func (b *CircuitBreaker) Arm(openIndex float64, enabled bool, threshold float64) {
	b.openIndex = openIndex
	b.triggered = false
	b.Enabled = enabled
	b.Threshold = threshold
}

func (b *CircuitBreaker) OpenIndex() float64 { return b.openIndex }

func (b *CircuitBreaker) Triggered() bool { return b.triggered }

// Drawdown is (openIndex - index) / openIndex, or 0 without a baseline.
func (b *CircuitBreaker) Drawdown(index float64) float64 {
	if b.openIndex <= 0 {
		return 0
	}
	return (b.openIndex - index) / b.openIndex
}

// Check returns true exactly once per armed session, the first time the drawdown
// reaches the threshold.
func (b *CircuitBreaker) Check(index float64) bool {
	if !b.Enabled || b.triggered || b.openIndex <= 0 {
		return false
	}
	if b.Drawdown(index) >= b.Threshold {
		b.triggered = true
		return true
	}
	return false
}
