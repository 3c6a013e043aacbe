package src

import (
	"runtime"

	"github.com/sourcegraph/conc/pool"
)

// parallelRange cuts [0,n) into contiguous chunks and runs body on each of
// them with at most threads goroutines. The first error returned by a chunk
// is returned once every chunk has finished.
func parallelRange(n, threads int, body func(lo, hi int) error) error {
	if n <= 0 {
		return nil
	}
	if threads < 1 {
		threads = runtime.NumCPU()
	}
	chunk := n / (threads * 4)
	if chunk < 1 {
		chunk = 1
	}
	p := pool.New().WithErrors().WithFirstError().WithMaxGoroutines(threads)
	for lo := 0; lo < n; lo += chunk {
		lo := lo
		hi := lo + chunk
		if hi > n {
			hi = n
		}
		p.Go(func() error {
			return body(lo, hi)
		})
	}
	return p.Wait()
}
