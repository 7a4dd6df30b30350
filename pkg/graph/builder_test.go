package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weftlabs/weft/pkg/rules"
)

// buildRegistry compiles and registers the given configs in order.
func buildRegistry(t *testing.T, cfgs ...rules.Config) *rules.Registry {
	t.Helper()
	reg := rules.NewRegistry()
	for _, cfg := range cfgs {
		rt, err := rules.Compile(cfg)
		require.NoError(t, err)
		require.NoError(t, reg.Add(rt))
	}
	return reg
}

// builderWithFiles returns a builder whose filesystem view contains
// exactly the given paths.
func builderWithFiles(reg *rules.Registry, files ...string) *Builder {
	set := make(map[string]bool, len(files))
	for _, f := range files {
		set[f] = true
	}
	b := NewBuilder(reg)
	b.Exists = func(path string) bool { return set[path] }
	return b
}

func TestBuildSingleJob(t *testing.T) {
	reg := buildRegistry(t, rules.Config{
		Name:    "align",
		Inputs:  []string{"reads/{sample}.fastq"},
		Outputs: []string{"mapped/{sample}.sam"},
		Shell:   "aligner -t {threads} {input} > {output}",
	})
	b := builderWithFiles(reg, "reads/a.fastq")

	g, err := b.Build([]string{"mapped/a.sam"})
	require.NoError(t, err)
	require.Equal(t, 1, g.Len())

	j := g.Jobs()[0]
	assert.Equal(t, "align", j.Rule.Name)
	assert.Equal(t, rules.Bindings{"sample": "a"}, j.Bindings)
	assert.Equal(t, []string{"reads/a.fastq"}, j.Inputs)
	assert.Equal(t, []string{"mapped/a.sam"}, j.Outputs)
	assert.Empty(t, g.Dependencies(j))
	assert.Equal(t, []string{"mapped/a.sam"}, g.Targets())
}

func TestBuildChain(t *testing.T) {
	reg := buildRegistry(t,
		rules.Config{
			Name:    "align",
			Inputs:  []string{"reads/{sample}.fastq"},
			Outputs: []string{"mapped/{sample}.sam"},
		},
		rules.Config{
			Name:    "sort",
			Inputs:  []string{"mapped/{sample}.sam"},
			Outputs: []string{"sorted/{sample}.bam"},
		},
	)
	b := builderWithFiles(reg, "reads/a.fastq")

	g, err := b.Build([]string{"sorted/a.bam"})
	require.NoError(t, err)
	require.Equal(t, 2, g.Len())

	sort := g.Producer("sorted/a.bam")
	require.NotNil(t, sort)
	align := g.Producer("mapped/a.sam")
	require.NotNil(t, align)

	deps := g.Dependencies(sort)
	require.Len(t, deps, 1)
	assert.Same(t, align, deps[0])
	assert.Equal(t, []*Job{sort}, g.Dependents(align))
}

func TestBuildMemoizesSharedDependency(t *testing.T) {
	// Diamond: both stats and plot consume mapped/a.sam; align must be
	// instantiated exactly once.
	reg := buildRegistry(t,
		rules.Config{
			Name:    "align",
			Inputs:  []string{"reads/{sample}.fastq"},
			Outputs: []string{"mapped/{sample}.sam"},
		},
		rules.Config{
			Name:    "stats",
			Inputs:  []string{"mapped/{sample}.sam"},
			Outputs: []string{"stats/{sample}.txt"},
		},
		rules.Config{
			Name:    "plot",
			Inputs:  []string{"mapped/{sample}.sam"},
			Outputs: []string{"plots/{sample}.png"},
		},
	)
	b := builderWithFiles(reg, "reads/a.fastq")

	g, err := b.Build([]string{"stats/a.txt", "plots/a.png"})
	require.NoError(t, err)
	assert.Equal(t, 3, g.Len())

	align := g.Producer("mapped/a.sam")
	require.NotNil(t, align)
	assert.Len(t, g.Dependents(align), 2)
}

func TestBuildExistingInputIsLeaf(t *testing.T) {
	// sorted depends on mapped/a.sam which exists on disk and is not a
	// target: no align job is created for it.
	reg := buildRegistry(t,
		rules.Config{
			Name:    "align",
			Inputs:  []string{"reads/{sample}.fastq"},
			Outputs: []string{"mapped/{sample}.sam"},
		},
		rules.Config{
			Name:    "sort",
			Inputs:  []string{"mapped/{sample}.sam"},
			Outputs: []string{"sorted/{sample}.bam"},
		},
	)
	b := builderWithFiles(reg, "mapped/a.sam")

	g, err := b.Build([]string{"sorted/a.bam"})
	require.NoError(t, err)
	assert.Equal(t, 1, g.Len())
	assert.Nil(t, g.Producer("mapped/a.sam"))
}

func TestBuildMissingInput(t *testing.T) {
	reg := buildRegistry(t, rules.Config{
		Name:    "align",
		Inputs:  []string{"reads/{sample}.fastq"},
		Outputs: []string{"mapped/{sample}.sam"},
	})
	b := builderWithFiles(reg) // nothing on disk

	_, err := b.Build([]string{"mapped/a.sam"})
	require.Error(t, err)

	var noRule *rules.NoRuleError
	require.ErrorAs(t, err, &noRule)
	assert.Equal(t, "reads/a.fastq", noRule.Path)

	var resolveErr *ResolveError
	require.ErrorAs(t, err, &resolveErr)
	assert.Equal(t, []string{"mapped/a.sam"}, resolveErr.Chain)
}

func TestBuildCycleDetection(t *testing.T) {
	reg := buildRegistry(t,
		rules.Config{
			Name:    "a",
			Inputs:  []string{"b/{x}.txt"},
			Outputs: []string{"a/{x}.txt"},
		},
		rules.Config{
			Name:    "b",
			Inputs:  []string{"a/{x}.txt"},
			Outputs: []string{"b/{x}.txt"},
		},
	)
	b := builderWithFiles(reg)

	_, err := b.Build([]string{"a/1.txt"})
	require.Error(t, err)

	var cyc *CyclicDependencyError
	require.ErrorAs(t, err, &cyc)
	// The chain names the resolution path back to the repeated job.
	assert.Equal(t, []string{"a/1.txt", "b/1.txt", "a/1.txt"}, cyc.Chain)
}

func TestBuildSelfCycle(t *testing.T) {
	reg := buildRegistry(t, rules.Config{
		Name:    "self",
		Inputs:  []string{"out/{x}.txt"},
		Outputs: []string{"out/{x}.txt"},
	})
	b := builderWithFiles(reg)

	_, err := b.Build([]string{"out/1.txt"})
	var cyc *CyclicDependencyError
	require.ErrorAs(t, err, &cyc)
}

func TestTopoOrderDeterministic(t *testing.T) {
	reg := buildRegistry(t,
		rules.Config{
			Name:    "gen",
			Outputs: []string{"data/{n}.txt"},
			Shell:   "echo {n} > {output}",
		},
		rules.Config{
			Name:    "merge",
			Inputs:  []string{"data/1.txt", "data/2.txt", "data/3.txt"},
			Outputs: []string{"merged.txt"},
		},
	)

	var first []string
	for i := 0; i < 5; i++ {
		b := builderWithFiles(reg)
		g, err := b.Build([]string{"merged.txt"})
		require.NoError(t, err)

		order, err := g.TopoOrder()
		require.NoError(t, err)

		ids := make([]string, len(order))
		for k, j := range order {
			ids[k] = j.ID()
		}
		if first == nil {
			first = ids
			continue
		}
		assert.Equal(t, first, ids, "topological order must be stable across builds")
	}
}

func TestJobRenderCommand(t *testing.T) {
	reg := buildRegistry(t, rules.Config{
		Name:    "align",
		Inputs:  []string{"reads/{sample}.fastq"},
		Outputs: []string{"mapped/{sample}.sam"},
		Shell:   "aligner -t {threads} {input} > {output}",
		Threads: 8,
	})
	b := builderWithFiles(reg, "reads/a.fastq")

	g, err := b.Build([]string{"mapped/a.sam"})
	require.NoError(t, err)
	j := g.Jobs()[0]

	// The build-time render uses the declared thread count.
	assert.Equal(t, "aligner -t 8 reads/a.fastq > mapped/a.sam", j.Shell)

	// The scheduler re-renders with the clamped grant.
	cmd, err := j.RenderCommand(2)
	require.NoError(t, err)
	assert.Equal(t, "aligner -t 2 reads/a.fastq > mapped/a.sam", cmd)
}
