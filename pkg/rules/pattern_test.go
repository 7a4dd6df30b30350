package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompilePattern(t *testing.T) {
	tests := []struct {
		name      string
		raw       string
		wantErr   bool
		wildcards []string
	}{
		{name: "literal only", raw: "results/report.html", wildcards: nil},
		{name: "single wildcard", raw: "mapped/{sample}.sam", wildcards: []string{"sample"}},
		{name: "two wildcards", raw: "{dir}/{sample}.fastq", wildcards: []string{"dir", "sample"}},
		{name: "repeated wildcard", raw: "{s}/{s}.txt", wildcards: []string{"s"}},
		{name: "empty", raw: "", wantErr: true},
		{name: "unclosed", raw: "mapped/{sample.sam", wantErr: true},
		{name: "unmatched close", raw: "mapped/sample}.sam", wantErr: true},
		{name: "empty name", raw: "mapped/{}.sam", wantErr: true},
		{name: "invalid name", raw: "mapped/{sam-ple}.sam", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := CompilePattern(tt.raw, nil)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.raw, p.String())
			assert.Equal(t, tt.wildcards, p.Wildcards())
			assert.Equal(t, len(tt.wildcards) > 0, p.HasWildcards())
		})
	}
}

func TestPatternMatch(t *testing.T) {
	p, err := CompilePattern("mapped/{sample}.sam", nil)
	require.NoError(t, err)

	t.Run("binds wildcard", func(t *testing.T) {
		b, ok := p.Match("mapped/a.sam")
		require.True(t, ok)
		assert.Equal(t, Bindings{"sample": "a"}, b)
	})

	t.Run("no match on wrong suffix", func(t *testing.T) {
		_, ok := p.Match("mapped/a.bam")
		assert.False(t, ok)
	})

	t.Run("no match across separators", func(t *testing.T) {
		_, ok := p.Match("mapped/sub/a.sam")
		assert.False(t, ok)
	})

	t.Run("anchored both ends", func(t *testing.T) {
		_, ok := p.Match("x/mapped/a.sam")
		assert.False(t, ok)
	})
}

func TestPatternMatchConstraints(t *testing.T) {
	p, err := CompilePattern("mapped/{sample}.sam", map[string]string{"sample": `[0-9]+`})
	require.NoError(t, err)

	b, ok := p.Match("mapped/42.sam")
	require.True(t, ok)
	assert.Equal(t, "42", b["sample"])

	_, ok = p.Match("mapped/abc.sam")
	assert.False(t, ok)
}

func TestPatternMatchRepeatedWildcard(t *testing.T) {
	p, err := CompilePattern("{s}/{s}.txt", nil)
	require.NoError(t, err)

	t.Run("equal values match", func(t *testing.T) {
		b, ok := p.Match("a/a.txt")
		require.True(t, ok)
		assert.Equal(t, Bindings{"s": "a"}, b)
	})

	t.Run("different values do not match", func(t *testing.T) {
		_, ok := p.Match("a/b.txt")
		assert.False(t, ok)
	})
}

func TestPatternMatchRepeatedWildcardGroupCollision(t *testing.T) {
	// {s} repeats, so its second occurrence needs a synthetic capture
	// group; {s_2} occupies the obvious candidate name and must still
	// bind under its own key.
	p, err := CompilePattern("{s}/{s_2}/{s}.txt", nil)
	require.NoError(t, err)

	b, ok := p.Match("a/b/a.txt")
	require.True(t, ok)
	assert.Equal(t, Bindings{"s": "a", "s_2": "b"}, b)

	_, ok = p.Match("a/b/c.txt")
	assert.False(t, ok, "repeated {s} must bind the same value")
}

func TestPatternMatchConstraintWithGroups(t *testing.T) {
	// Capture groups inside a user constraint must not leak into the
	// bindings.
	p, err := CompilePattern("mapped/{sample}.sam", map[string]string{"sample": `(a|b)[0-9]+`})
	require.NoError(t, err)

	b, ok := p.Match("mapped/a42.sam")
	require.True(t, ok)
	assert.Equal(t, Bindings{"sample": "a42"}, b)
}

func TestPatternExpand(t *testing.T) {
	p, err := CompilePattern("mapped/{sample}.sam", nil)
	require.NoError(t, err)

	t.Run("substitutes binding", func(t *testing.T) {
		path, err := p.Expand(Bindings{"sample": "a"})
		require.NoError(t, err)
		assert.Equal(t, "mapped/a.sam", path)
	})

	t.Run("missing binding fails", func(t *testing.T) {
		_, err := p.Expand(Bindings{})
		require.Error(t, err)
	})
}

func TestPatternRoundTrip(t *testing.T) {
	p, err := CompilePattern("out/{a}/{b}.csv", nil)
	require.NoError(t, err)

	b, ok := p.Match("out/x/y.csv")
	require.True(t, ok)

	path, err := p.Expand(b)
	require.NoError(t, err)
	assert.Equal(t, "out/x/y.csv", path)
}

func TestBindingsKey(t *testing.T) {
	assert.Equal(t, "", Bindings{}.Key())
	assert.Equal(t, "sample=a", Bindings{"sample": "a"}.Key())

	// Key order is sorted, not insertion order.
	b := Bindings{"z": "1", "a": "2"}
	assert.Equal(t, "a=2,z=1", b.Key())
}
