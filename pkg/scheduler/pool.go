package scheduler

import (
	"fmt"
	"sort"
	"sync"

	"github.com/weftlabs/weft/pkg/graph"
)

// ResourceError reports a job whose resource request can never be
// satisfied by the configured pool. Detected at plan time, before any
// job runs.
type ResourceError struct {
	Job      string
	Resource string
	Need     int
	Total    int
}

func (e *ResourceError) Error() string {
	return fmt.Sprintf("job %s requests %d of resource %q but the pool only has %d",
		e.Job, e.Need, e.Resource, e.Total)
}

// ResourcePool tracks free CPU cores and named resource quantities.
//
// Acquire and Release are strictly paired: every successful Acquire must
// be matched by exactly one Release with the same job and granted thread
// count. All accounting happens under one mutex.
//
// A total of zero cores means unlimited: thread requests are granted as
// declared and never block admission.
type ResourcePool struct {
	mu sync.Mutex

	totalCores int
	freeCores  int

	total map[string]int
	free  map[string]int
}

// NewResourcePool creates a pool with the given core count and named
// resource capacities. cores <= 0 means unlimited cores.
func NewResourcePool(cores int, resources map[string]int) *ResourcePool {
	if cores < 0 {
		cores = 0
	}
	p := &ResourcePool{
		totalCores: cores,
		freeCores:  cores,
		total:      make(map[string]int, len(resources)),
		free:       make(map[string]int, len(resources)),
	}
	for name, qty := range resources {
		if qty < 0 {
			qty = 0
		}
		p.total[name] = qty
		p.free[name] = qty
	}
	return p
}

// TotalCores returns the configured core count (0 = unlimited).
func (p *ResourcePool) TotalCores() int { return p.totalCores }

// ClampThreads returns the effective thread grant for a request: the
// declared count, clamped down to the pool total when it exceeds it.
func (p *ResourcePool) ClampThreads(threads int) int {
	if threads < 1 {
		threads = 1
	}
	if p.totalCores > 0 && threads > p.totalCores {
		return p.totalCores
	}
	return threads
}

// Check verifies that the job's named resource demands fit within the
// pool's total capacity. Thread requests are never an error: they are
// clamped instead.
func (p *ResourcePool) Check(j *graph.Job) error {
	names := make([]string, 0, len(j.Resources))
	for name := range j.Resources {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		need := j.Resources[name]
		if need <= 0 {
			continue
		}
		if total := p.total[name]; need > total {
			return &ResourceError{Job: j.String(), Resource: name, Need: need, Total: total}
		}
	}
	return nil
}

// TryAcquire attempts to reserve the job's clamped thread count and its
// named resources. It returns the granted thread count and whether the
// reservation succeeded. No partial reservation is ever held.
func (p *ResourcePool) TryAcquire(j *graph.Job) (int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	threads := p.ClampThreads(j.Threads)
	if p.totalCores > 0 && threads > p.freeCores {
		return 0, false
	}
	for name, need := range j.Resources {
		if need > 0 && need > p.free[name] {
			return 0, false
		}
	}

	if p.totalCores > 0 {
		p.freeCores -= threads
	}
	for name, need := range j.Resources {
		if need > 0 {
			p.free[name] -= need
		}
	}
	return threads, true
}

// Release returns a job's reservation to the pool. threads must be the
// count granted by the matching TryAcquire.
func (p *ResourcePool) Release(j *graph.Job, threads int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.totalCores > 0 {
		p.freeCores += threads
		if p.freeCores > p.totalCores {
			p.freeCores = p.totalCores
		}
	}
	for name, need := range j.Resources {
		if need > 0 {
			p.free[name] += need
			if p.free[name] > p.total[name] {
				p.free[name] = p.total[name]
			}
		}
	}
}

// FreeCores returns the currently unreserved core count.
func (p *ResourcePool) FreeCores() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.freeCores
}
