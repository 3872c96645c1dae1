package chunker

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewValidation(t *testing.T) {
	tests := []struct {
		name    string
		size    int
		overlap int
		wantErr bool
	}{
		{"valid", 800, 175, false},
		{"zero overlap", 100, 0, false},
		{"zero size", 0, 0, true},
		{"negative overlap", 100, -1, true},
		{"overlap equals size", 100, 100, true},
		{"overlap exceeds size", 100, 150, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.size, tt.overlap)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSplitEmptyText(t *testing.T) {
	c, err := New(800, 175)
	require.NoError(t, err)
	assert.Nil(t, c.Split(""))
}

func TestSplitShortText(t *testing.T) {
	c, err := New(800, 175)
	require.NoError(t, err)

	frags := c.Split("short")
	require.Len(t, frags, 1)
	assert.Equal(t, "short", frags[0].Text)
	assert.Equal(t, 0, frags[0].Start)
	assert.Equal(t, 5, frags[0].End)
}

// 3,000 characters at size 800 / overlap 175 must produce
// ceil((3000-175)/(800-175)) = 5 fragments.
func TestSplitCountFormula(t *testing.T) {
	c, err := New(800, 175)
	require.NoError(t, err)

	text := strings.Repeat("a", 3000)
	frags := c.Split(text)
	require.Len(t, frags, 5)

	assert.Equal(t, 0, frags[0].Start)
	assert.Equal(t, 800, frags[0].End)
	assert.Equal(t, 625, frags[1].Start)
	assert.Equal(t, 2500, frags[4].Start)
	assert.Equal(t, 3000, frags[4].End)
}

func TestSplitOverlapAndOrdering(t *testing.T) {
	c, err := New(10, 3)
	require.NoError(t, err)

	text := "abcdefghijklmnopqrstuvwxyz"
	frags := c.Split(text)

	for i, f := range frags {
		assert.Equal(t, i, f.Index)
		assert.Equal(t, f.Text, text[f.Start:f.End])
		if i > 0 {
			// Consecutive windows share exactly the overlap.
			assert.Equal(t, frags[i-1].End-3, f.Start)
		}
	}
	// Full coverage: last fragment reaches the end of the text.
	assert.Equal(t, len(text), frags[len(frags)-1].End)
}

func TestSplitDeterministic(t *testing.T) {
	c, err := New(50, 10)
	require.NoError(t, err)

	text := strings.Repeat("the quick brown fox jumps over the lazy dog. ", 20)
	first := c.Split(text)
	second := c.Split(text)
	assert.Equal(t, first, second)
}

func TestSplitRuneOffsets(t *testing.T) {
	c, err := New(4, 1)
	require.NoError(t, err)

	// Multi-byte runes: offsets count runes, not bytes.
	frags := c.Split("héllo wörld")
	runes := []rune("héllo wörld")
	for _, f := range frags {
		assert.Equal(t, string(runes[f.Start:f.End]), f.Text)
	}
}
