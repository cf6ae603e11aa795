// Package ops provides the deterministic CPU neural kernels the generator is
// assembled from: 1-D convolutions, transposed convolutions, masked
// attention, and positionwise feed-forward layers.
package ops

import (
	"sync"
	"sync/atomic"
)

// convWorkers controls the number of goroutines used by the parallel Conv1D
// and ConvTranspose1D paths. A value of 0 or 1 means sequential (default).
var convWorkers atomic.Int32

// SetConvWorkers sets the maximum number of goroutines used for parallel
// Conv1D / ConvTranspose1D execution. n <= 1 disables parallelism.
func SetConvWorkers(n int) {
	const maxInt32 = int(^uint32(0) >> 1)

	if n < 0 {
		n = 0
	}

	if n > maxInt32 {
		n = maxInt32
	}

	convWorkers.Store(int32(n))
}

// getConvWorkers returns the current worker count (0 or 1 -> sequential).
func getConvWorkers() int { return int(convWorkers.Load()) }

// parallelFor splits the range [0, n) into chunks and runs fn(lo, hi)
// concurrently. When workers <= 1 the call is sequential (no goroutines).
func parallelFor(n, workers int, fn func(lo, hi int)) {
	if workers <= 1 || n <= 1 {
		fn(0, n)
		return
	}

	if workers > n {
		workers = n
	}
	var wg sync.WaitGroup

	chunk := (n + workers - 1) / workers
	for lo := 0; lo < n; lo += chunk {
		hi := min(lo+chunk, n)

		wg.Add(1)

		go func(lo, hi int) {
			defer wg.Done()

			fn(lo, hi)
		}(lo, hi)
	}

	wg.Wait()
}
