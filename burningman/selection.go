package burningman

// Rand is the source of randomness used for weighted draws. *rand.Rand from
// math/rand satisfies it.
type Rand interface {
	// Int63n returns a non-negative pseudo-random number in [0,n).
	Int63n(n int64) int64
}

// FindIndex returns the smallest index i such that target is less than or
// equal to the cumulative weight w[0]+...+w[i]. Targets that are not
// positive or exceed the total weight fall back to index 0.
func FindIndex(weights []int64, target int64) int {
	var cumulative int64
	for i, weight := range weights {
		cumulative += weight
		if cumulative >= target {
			return i
		}
	}

	return 0
}

// PickRandomIndex draws a target uniformly from [1, sum(weights)] and
// returns the matching weighted index. If the weights sum to zero, -1 is
// returned.
func PickRandomIndex(weights []int64, rng Rand) int {
	var sum int64
	for _, weight := range weights {
		sum += weight
	}

	if sum <= 0 {
		return -1
	}

	return FindIndex(weights, rng.Int63n(sum)+1)
}

// SelectionHeight returns the snapshot height receivers are selected at for
// the given chain height. Both trade parties round their view of the chain
// tip down to the same grid point, so a difference of a few blocks between
// them does not change the result.
func SelectionHeight(genesisHeight, chainHeight, grid uint32) uint32 {
	if grid == 0 {
		return chainHeight
	}

	height := max(genesisHeight+3*grid, chainHeight)

	return height/grid*grid - grid
}
