package segmentation

import (
	"math"
	"math/rand"
)

// kmeansResult holds the best fit across restarts.
type kmeansResult struct {
	assignments []int
	centroids   [][]float64
	inertia     float64
}

// runKMeans fits k-means with k-means++ seeding and Lloyd iterations. The
// fit is deterministic for a fixed seed: restarts share one seeded source and
// the lowest-inertia restart wins, with ties resolved to the earliest.
func runKMeans(points [][]float64, k, restarts, maxIter int, seed int64) kmeansResult {
	rng := rand.New(rand.NewSource(seed))

	best := kmeansResult{inertia: math.Inf(1)}
	for r := 0; r < restarts; r++ {
		res := fitOnce(points, k, maxIter, rng)
		if res.inertia < best.inertia {
			best = res
		}
	}
	return best
}

func fitOnce(points [][]float64, k, maxIter int, rng *rand.Rand) kmeansResult {
	centroids := seedPlusPlus(points, k, rng)
	assignments := make([]int, len(points))

	for iter := 0; iter < maxIter; iter++ {
		changed := false
		for i, p := range points {
			c := nearest(p, centroids)
			if c != assignments[i] {
				assignments[i] = c
				changed = true
			}
		}

		// Recompute centroids as cluster means.
		dims := len(points[0])
		sums := make([][]float64, k)
		counts := make([]int, k)
		for c := range sums {
			sums[c] = make([]float64, dims)
		}
		for i, p := range points {
			c := assignments[i]
			counts[c]++
			for d, v := range p {
				sums[c][d] += v
			}
		}
		for c := 0; c < k; c++ {
			if counts[c] == 0 {
				// Empty cluster: reseed it from the point farthest from
				// its current centroid so every cluster stays populated.
				centroids[c] = append([]float64(nil), farthestPoint(points, centroids, assignments)...)
				changed = true
				continue
			}
			for d := range sums[c] {
				centroids[c][d] = sums[c][d] / float64(counts[c])
			}
		}

		if !changed && iter > 0 {
			break
		}
	}

	inertia := 0.0
	for i, p := range points {
		inertia += sqDist(p, centroids[assignments[i]])
	}
	return kmeansResult{assignments: assignments, centroids: centroids, inertia: inertia}
}

// seedPlusPlus picks initial centroids with the k-means++ scheme: the first
// uniformly, each next with probability proportional to squared distance
// from the nearest chosen centroid.
func seedPlusPlus(points [][]float64, k int, rng *rand.Rand) [][]float64 {
	centroids := make([][]float64, 0, k)
	first := points[rng.Intn(len(points))]
	centroids = append(centroids, append([]float64(nil), first...))

	dists := make([]float64, len(points))
	for len(centroids) < k {
		total := 0.0
		for i, p := range points {
			d := sqDist(p, centroids[0])
			for _, c := range centroids[1:] {
				if dd := sqDist(p, c); dd < d {
					d = dd
				}
			}
			dists[i] = d
			total += d
		}

		var next []float64
		if total == 0 {
			// All remaining mass sits on chosen centroids; fall back to uniform.
			next = points[rng.Intn(len(points))]
		} else {
			target := rng.Float64() * total
			acc := 0.0
			next = points[len(points)-1]
			for i, d := range dists {
				acc += d
				if acc >= target {
					next = points[i]
					break
				}
			}
		}
		centroids = append(centroids, append([]float64(nil), next...))
	}
	return centroids
}

func nearest(p []float64, centroids [][]float64) int {
	bestIdx := 0
	bestDist := sqDist(p, centroids[0])
	for c := 1; c < len(centroids); c++ {
		if d := sqDist(p, centroids[c]); d < bestDist {
			bestDist = d
			bestIdx = c
		}
	}
	return bestIdx
}

func farthestPoint(points [][]float64, centroids [][]float64, assignments []int) []float64 {
	bestIdx := 0
	bestDist := -1.0
	for i, p := range points {
		if d := sqDist(p, centroids[assignments[i]]); d > bestDist {
			bestDist = d
			bestIdx = i
		}
	}
	return points[bestIdx]
}

func sqDist(a, b []float64) float64 {
	total := 0.0
	for i := range a {
		diff := a[i] - b[i]
		total += diff * diff
	}
	return total
}
