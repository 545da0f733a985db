package field

import "math"

const (
	// degenerateEps guards normalization against near-zero field vectors.
	degenerateEps = 1e-12
	// equalTol is the elementwise tolerance for treating the two channel
	// fields as identical.
	equalTol = 1e-9
)

// Envelope computes the maximal temporal-interference modulation
// amplitude for two channel field vectors at one element. The result is
// analytic: identical vectors give 2|E1|; otherwise the pair is
// orientation-normalized (E2 flipped when pointing away from E1) and the
// amplitude is 2|small| when the smaller vector's projection is dominated
// by the larger, else the cross-product form. Never NaN for finite
// input, always >= 0.
func Envelope(e1, e2 [3]float64) float64 {
	n1 := norm(e1)
	n2 := norm(e2)
	if n1 < degenerateEps || n2 < degenerateEps {
		return 2 * math.Min(n1, n2)
	}
	if equalWithin(e1, e2, equalTol) {
		return 2 * n1
	}
	if dot(e1, e2) < 0 {
		e2 = [3]float64{-e2[0], -e2[1], -e2[2]}
	}

	large, small := e1, e2
	nl, ns := n1, n2
	if n2 > n1 {
		large, small = e2, e1
		nl, ns = n2, n1
	}

	cosTheta := dot(small, large) / (ns * nl)
	if ns <= nl*cosTheta {
		return 2 * ns
	}

	diff := [3]float64{large[0] - small[0], large[1] - small[1], large[2] - small[2]}
	nd := norm(diff)
	if nd < degenerateEps {
		return 2 * ns
	}
	return 2 * norm(cross(small, diff)) / nd
}

func dot(a, b [3]float64) float64 {
	return a[0]*b[0] + a[1]*b[1] + a[2]*b[2]
}

func cross(a, b [3]float64) [3]float64 {
	return [3]float64{
		a[1]*b[2] - a[2]*b[1],
		a[2]*b[0] - a[0]*b[2],
		a[0]*b[1] - a[1]*b[0],
	}
}

func norm(a [3]float64) float64 {
	return math.Sqrt(dot(a, a))
}

func equalWithin(a, b [3]float64, tol float64) bool {
	return math.Abs(a[0]-b[0]) <= tol &&
		math.Abs(a[1]-b[1]) <= tol &&
		math.Abs(a[2]-b[2]) <= tol
}
