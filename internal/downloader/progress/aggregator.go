package progress

// Aggregator folds per-transfer byte counts and the completed baseline into
// one overall fraction. Items are weighted by probed size; when every size
// is unknown (total of zero) each item weighs the same.
//
// Aggregator is not safe for concurrent use.
type Aggregator struct {
	sizes []int64
	total int64

	completedBytes int64
	completedItems int

	current         int
	currentBytes    int64
	currentFraction float64

	finished bool
}

// NewAggregator takes the probed size of each item in manifest order.
// Non-positive sizes mean unknown and contribute no weight.
func NewAggregator(sizes []int64) *Aggregator {
	a := &Aggregator{sizes: make([]int64, len(sizes))}

	for i, s := range sizes {
		if s > 0 {
			a.sizes[i] = s
			a.total += s
		}
	}

	return a
}

// Resume marks the first n items as completed. It is meant to be called
// once, before any item starts.
func (a *Aggregator) Resume(n int) {
	n = min(max(n, 0), len(a.sizes))

	a.completedItems = n
	a.completedBytes = 0

	for _, s := range a.sizes[:n] {
		a.completedBytes += s
	}

	a.current = n
	a.resetCurrent()
}

// StartItem begins (or restarts, after a failure) item i. Partial progress
// of a previous attempt is discarded; the completed baseline is kept.
func (a *Aggregator) StartItem(i int) {
	a.current = i
	a.resetCurrent()
}

// Update records written of expected bytes for the current item and returns
// the overall fraction. Expected may be unknown (<= 0).
func (a *Aggregator) Update(written, expected int64) float64 {
	fraction := 0.0
	if expected > 0 {
		fraction = min(1, max(0, float64(written)/float64(expected)))
	}

	a.currentFraction = max(a.currentFraction, fraction)

	if a.current < len(a.sizes) {
		if size := a.sizes[a.current]; size > 0 {
			a.currentBytes = max(a.currentBytes, min(max(written, 0), size))
		}
	}

	return a.Overall()
}

// CompleteItem credits the current item to the baseline and moves on.
func (a *Aggregator) CompleteItem() float64 {
	if a.current < len(a.sizes) {
		a.completedBytes += a.sizes[a.current]
		a.completedItems++
		a.current++
	}

	a.resetCurrent()

	return a.Overall()
}

// Finish pins the overall fraction to exactly 1.
func (a *Aggregator) Finish() {
	a.finished = true
	a.resetCurrent()
}

// Overall returns the combined completion fraction in [0, 1].
func (a *Aggregator) Overall() float64 {
	if a.finished {
		return 1
	}

	if a.total > 0 {
		return min(1, float64(a.completedBytes+a.currentBytes)/float64(a.total))
	}

	if len(a.sizes) == 0 {
		return 0
	}

	return min(1, (float64(a.completedItems)+a.currentFraction)/float64(len(a.sizes)))
}

// ByteWeighted reports whether at least one size is known.
func (a *Aggregator) ByteWeighted() bool { return a.total > 0 }

func (a *Aggregator) TotalBytes() int64 { return a.total }
func (a *Aggregator) CompletedBytes() int64 { return a.completedBytes }
func (a *Aggregator) CurrentBytes() int64 { return a.currentBytes }
func (a *Aggregator) CurrentFraction() float64 { return a.currentFraction }
func (a *Aggregator) CompletedItems() int { return a.completedItems }
func (a *Aggregator) ItemCount() int { return len(a.sizes) }

func (a *Aggregator) resetCurrent() {
	a.currentBytes = 0
	a.currentFraction = 0
}
