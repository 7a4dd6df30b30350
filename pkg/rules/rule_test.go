package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompile(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		rt, err := Compile(Config{
			Name:    "align",
			Inputs:  []string{"reads/{sample}.fastq"},
			Outputs: []string{"mapped/{sample}.sam"},
		})
		require.NoError(t, err)
		assert.Equal(t, 1, rt.Threads)
		assert.NotEmpty(t, rt.Fingerprint())
		assert.Equal(t, []string{"mapped/{sample}.sam"}, rt.OutputPatterns())
	})

	t.Run("requires name", func(t *testing.T) {
		_, err := Compile(Config{Outputs: []string{"a.txt"}})
		require.Error(t, err)
	})

	t.Run("requires output", func(t *testing.T) {
		_, err := Compile(Config{Name: "x"})
		require.Error(t, err)
	})

	t.Run("input wildcard must appear in an output", func(t *testing.T) {
		_, err := Compile(Config{
			Name:    "bad",
			Inputs:  []string{"reads/{lane}.fastq"},
			Outputs: []string{"mapped/{sample}.sam"},
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "{lane}")
	})

	t.Run("log wildcard must appear in an output", func(t *testing.T) {
		_, err := Compile(Config{
			Name:    "bad",
			Outputs: []string{"mapped/{sample}.sam"},
			Log:     "logs/{lane}.log",
		})
		require.Error(t, err)
	})

	t.Run("sibling outputs share the wildcard set", func(t *testing.T) {
		_, err := Compile(Config{
			Name:    "bad",
			Outputs: []string{"mapped/{sample}.sam", "stats/summary.txt"},
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "sibling")
	})

	t.Run("multi output with full wildcard set", func(t *testing.T) {
		rt, err := Compile(Config{
			Name:    "split",
			Outputs: []string{"fwd/{sample}.fastq", "rev/{sample}.fastq"},
		})
		require.NoError(t, err)
		assert.Len(t, rt.Outputs, 2)
	})
}

func TestFingerprint(t *testing.T) {
	base := Config{
		Name:    "align",
		Inputs:  []string{"reads/{sample}.fastq"},
		Outputs: []string{"mapped/{sample}.sam"},
		Shell:   "aligner {input} > {output}",
	}

	rt1, err := Compile(base)
	require.NoError(t, err)
	rt2, err := Compile(base)
	require.NoError(t, err)
	assert.Equal(t, rt1.Fingerprint(), rt2.Fingerprint(), "identical configs hash identically")

	changed := base
	changed.Shell = "aligner --fast {input} > {output}"
	rt3, err := Compile(changed)
	require.NoError(t, err)
	assert.NotEqual(t, rt1.Fingerprint(), rt3.Fingerprint(), "shell change alters the fingerprint")

	reordered := base
	reordered.Inputs = []string{"reads/{sample}.fastq"}
	reordered.Outputs = []string{"mapped/{sample}.sam"}
	rt4, err := Compile(reordered)
	require.NoError(t, err)
	assert.Equal(t, rt1.Fingerprint(), rt4.Fingerprint())

	constrained := base
	constrained.Wildcards = map[string]string{"sample": `[0-9]+`}
	rt5, err := Compile(constrained)
	require.NoError(t, err)
	assert.NotEqual(t, rt1.Fingerprint(), rt5.Fingerprint(), "wildcard constraint change alters the fingerprint")

	logged := base
	logged.Log = "logs/{sample}.log"
	rt6, err := Compile(logged)
	require.NoError(t, err)
	assert.NotEqual(t, rt1.Fingerprint(), rt6.Fingerprint(), "log path change alters the fingerprint")
}

func TestRenderShell(t *testing.T) {
	ctx := ShellContext{
		Inputs:    []string{"reads/a.fastq", "ref.fa"},
		Outputs:   []string{"mapped/a.sam"},
		Log:       "logs/a.log",
		Threads:   4,
		Params:    map[string]string{"mode": "fast"},
		Wildcards: Bindings{"sample": "a"},
	}

	tests := []struct {
		name     string
		template string
		want     string
		wantErr  bool
	}{
		{name: "joined lists", template: "cmd {input} > {output}", want: "cmd reads/a.fastq ref.fa > mapped/a.sam"},
		{name: "indexed", template: "cmd {input[1]} {input[0]}", want: "cmd ref.fa reads/a.fastq"},
		{name: "threads and log", template: "cmd -t {threads} 2> {log}", want: "cmd -t 4 2> logs/a.log"},
		{name: "params", template: "cmd --mode {params.mode}", want: "cmd --mode fast"},
		{name: "wildcards prefixed", template: "echo {wildcards.sample}", want: "echo a"},
		{name: "bare wildcard", template: "echo {sample}", want: "echo a"},
		{name: "unknown placeholder", template: "cmd {nope}", wantErr: true},
		{name: "unknown param", template: "cmd {params.nope}", wantErr: true},
		{name: "index out of range", template: "cmd {input[5]}", wantErr: true},
		{name: "unclosed", template: "cmd {input", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := RenderShell(tt.template, ctx)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
