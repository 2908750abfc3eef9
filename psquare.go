package promise

// quantileEstimator implements the P-Square algorithm for streaming
// quantile estimation: O(1) per observation, O(1) retrieval, five markers
// of state, no sample retention.
//
// Reference:
// Jain, R. and Chlamtac, I. (1985). "The P² Algorithm for Dynamic
// Calculation of Quantiles and Histograms Without Storing Observations".
// Communications of the ACM, 28(10), pp. 1076-1085.
//
// Thread Safety: NOT thread-safe. Caller must ensure synchronization.
type quantileEstimator struct {
	// p is the target quantile (0.0 to 1.0)
	p float64

	// q holds the 5 marker heights
	q [5]float64

	// n holds the 5 actual marker positions (0-indexed)
	n [5]int

	// np holds the 5 desired marker positions
	np [5]float64

	// dn holds the desired-position increments
	dn [5]float64

	// count is the total number of observations received
	count int

	// buf holds the first 5 observations, before the markers exist
	buf [5]float64
}

// newQuantileEstimator returns an estimator for quantile p, clamped to
// [0, 1]. Use 0.5 for the median, 0.99 for P99, and so on.
func newQuantileEstimator(p float64) *quantileEstimator {
	if p < 0 {
		p = 0
	}
	if p > 1 {
		p = 1
	}
	return &quantileEstimator{
		p:  p,
		dn: [5]float64{0, p / 2, p, (1 + p) / 2, 1},
	}
}

// update adds one observation in O(1).
func (e *quantileEstimator) update(x float64) {
	e.count++

	// The markers need 5 observations to exist
	if e.count <= 5 {
		e.buf[e.count-1] = x
		if e.count == 5 {
			e.initMarkers()
		}
		return
	}

	// Find cell k with q[k] <= x < q[k+1], widening the extremes as needed
	var k int
	if x < e.q[0] {
		e.q[0] = x
		k = 0
	} else if x >= e.q[4] {
		e.q[4] = x
		k = 3
	} else {
		for k = 0; k < 4; k++ {
			if e.q[k] <= x && x < e.q[k+1] {
				break
			}
		}
	}

	// Shift actual positions above the insertion cell
	for i := k + 1; i < 5; i++ {
		e.n[i]++
	}

	// Advance desired positions
	for i := 0; i < 5; i++ {
		e.np[i] += e.dn[i]
	}

	// Nudge interior markers toward their desired positions
	for i := 1; i < 4; i++ {
		d := e.np[i] - float64(e.n[i])
		if (d >= 1 && e.n[i+1]-e.n[i] > 1) || (d <= -1 && e.n[i-1]-e.n[i] < -1) {
			sign := 1
			if d < 0 {
				sign = -1
			}

			// Parabolic adjustment, falling back to linear when it would
			// break marker monotonicity
			qPrime := e.parabolic(i, sign)
			if e.q[i-1] < qPrime && qPrime < e.q[i+1] {
				e.q[i] = qPrime
			} else {
				e.q[i] = e.linear(i, sign)
			}
			e.n[i] += sign
		}
	}
}

// initMarkers seeds the markers from the first 5 observations.
func (e *quantileEstimator) initMarkers() {
	// Insertion sort, the array is 5 wide
	for i := 1; i < 5; i++ {
		key := e.buf[i]
		j := i - 1
		for j >= 0 && e.buf[j] > key {
			e.buf[j+1] = e.buf[j]
			j--
		}
		e.buf[j+1] = key
	}

	for i := 0; i < 5; i++ {
		e.q[i] = e.buf[i]
		e.n[i] = i
	}
	e.np = [5]float64{0, 2 * e.p, 4 * e.p, 2 + 2*e.p, 4}
}

// parabolic computes the P-Square parabolic adjustment for marker i.
func (e *quantileEstimator) parabolic(i, d int) float64 {
	df := float64(d)
	ni := float64(e.n[i])
	niPrev := float64(e.n[i-1])
	niNext := float64(e.n[i+1])

	term1 := df / (niNext - niPrev)
	term2 := (ni - niPrev + df) * (e.q[i+1] - e.q[i]) / (niNext - ni)
	term3 := (niNext - ni - df) * (e.q[i] - e.q[i-1]) / (ni - niPrev)

	return e.q[i] + term1*(term2+term3)
}

// linear computes the P-Square linear adjustment for marker i.
func (e *quantileEstimator) linear(i, d int) float64 {
	if d == 1 {
		return e.q[i] + (e.q[i+1]-e.q[i])/float64(e.n[i+1]-e.n[i])
	}
	return e.q[i] - (e.q[i]-e.q[i-1])/float64(e.n[i]-e.n[i-1])
}

// quantile returns the current estimate in O(1). With fewer than 5
// observations it returns the exact order statistic from the seed buffer.
func (e *quantileEstimator) quantile() float64 {
	if e.count == 0 {
		return 0
	}

	if e.count < 5 {
		sorted := make([]float64, e.count)
		copy(sorted, e.buf[:e.count])
		for i := 1; i < e.count; i++ {
			key := sorted[i]
			j := i - 1
			for j >= 0 && sorted[j] > key {
				sorted[j+1] = sorted[j]
				j--
			}
			sorted[j+1] = key
		}
		idx := int(float64(e.count-1) * e.p)
		if idx >= e.count {
			idx = e.count - 1
		}
		return sorted[idx]
	}

	// Marker 2 tracks the target quantile
	return e.q[2]
}
