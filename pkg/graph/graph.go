package graph

import "fmt"

// JobGraph is the concrete execution plan: jobs plus producer/consumer
// edges. Acyclicity is established during construction; Build fails with
// CyclicDependencyError otherwise.
type JobGraph struct {
	jobs      []*Job            // arrival order
	producers map[string]*Job   // output path -> producing job
	deps      map[string][]*Job // job ID -> predecessor jobs
	deps2     map[string][]*Job // job ID -> dependent jobs
	targets   []string
}

func newJobGraph(targets []string) *JobGraph {
	return &JobGraph{
		producers: make(map[string]*Job),
		deps:      make(map[string][]*Job),
		deps2:     make(map[string][]*Job),
		targets:   append([]string(nil), targets...),
	}
}

// Targets returns the requested target paths.
func (g *JobGraph) Targets() []string {
	out := make([]string, len(g.targets))
	copy(out, g.targets)
	return out
}

// Jobs returns all jobs in arrival order.
func (g *JobGraph) Jobs() []*Job {
	out := make([]*Job, len(g.jobs))
	copy(out, g.jobs)
	return out
}

// Len returns the number of jobs.
func (g *JobGraph) Len() int { return len(g.jobs) }

// Producer returns the job producing the given output path, or nil if the
// path is a leaf (pre-existing file).
func (g *JobGraph) Producer(path string) *Job {
	return g.producers[path]
}

// Dependencies returns the predecessor jobs of j (producers of its inputs).
func (g *JobGraph) Dependencies(j *Job) []*Job {
	return g.deps[j.ID()]
}

// Dependents returns the jobs consuming any output of j.
func (g *JobGraph) Dependents(j *Job) []*Job {
	return g.deps2[j.ID()]
}

// Consumers returns the jobs that consume the given path as an input.
func (g *JobGraph) Consumers(path string) []*Job {
	var out []*Job
	for _, j := range g.jobs {
		for _, in := range j.Inputs {
			if in == path {
				out = append(out, j)
				break
			}
		}
	}
	return out
}

func (g *JobGraph) addJob(j *Job) {
	g.jobs = append(g.jobs, j)
	for _, out := range j.Outputs {
		g.producers[out] = j
	}
}

func (g *JobGraph) addEdge(producer, consumer *Job) {
	cid := consumer.ID()
	for _, existing := range g.deps[cid] {
		if existing == producer {
			return
		}
	}
	g.deps[cid] = append(g.deps[cid], producer)
	g.deps2[producer.ID()] = append(g.deps2[producer.ID()], consumer)
}

// TopoOrder returns the jobs in a deterministic topological order:
// predecessors first, ties broken by arrival index.
func (g *JobGraph) TopoOrder() ([]*Job, error) {
	indegree := make(map[string]int, len(g.jobs))
	for _, j := range g.jobs {
		indegree[j.ID()] = len(g.deps[j.ID()])
	}

	// Arrival-ordered frontier keeps the order reproducible across runs.
	var frontier []*Job
	for _, j := range g.jobs {
		if indegree[j.ID()] == 0 {
			frontier = append(frontier, j)
		}
	}

	out := make([]*Job, 0, len(g.jobs))
	for len(frontier) > 0 {
		// Pick the lowest arrival index in the frontier.
		best := 0
		for i := 1; i < len(frontier); i++ {
			if frontier[i].Arrival < frontier[best].Arrival {
				best = i
			}
		}
		j := frontier[best]
		frontier = append(frontier[:best], frontier[best+1:]...)
		out = append(out, j)

		for _, dep := range g.deps2[j.ID()] {
			indegree[dep.ID()]--
			if indegree[dep.ID()] == 0 {
				frontier = append(frontier, dep)
			}
		}
	}

	if len(out) != len(g.jobs) {
		return nil, fmt.Errorf("graph contains a cycle (%d of %d jobs ordered)", len(out), len(g.jobs))
	}
	return out, nil
}
