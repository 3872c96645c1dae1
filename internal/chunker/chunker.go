// Package chunker splits extracted text into overlapping fragments sized
// for embedding. Boundaries are pure functions of (text, size, overlap),
// so the same input always produces the same chunks.
package chunker

import "fmt"

// Fragment is one chunk of source text. Start and End are rune offsets
// into the source; End is exclusive.
type Fragment struct {
	Index int
	Text  string
	Start int
	End   int
}

// Chunker produces fixed-size rune windows with a fixed overlap between
// consecutive windows.
type Chunker struct {
	size    int
	overlap int
}

// New validates the parameters and returns a Chunker. Overlap must be
// smaller than size or the window would never advance.
func New(size, overlap int) (*Chunker, error) {
	if size <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", size)
	}
	if overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("chunk overlap %d must be in [0, %d)", overlap, size)
	}
	return &Chunker{size: size, overlap: overlap}, nil
}

// Split returns the fragments of text in document order. Fragment indexes
// are contiguous from zero. Empty text yields no fragments; text shorter
// than one window yields exactly one.
func (c *Chunker) Split(text string) []Fragment {
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}

	step := c.size - c.overlap
	var fragments []Fragment
	for start := 0; ; start += step {
		end := start + c.size
		if end > len(runes) {
			end = len(runes)
		}
		fragments = append(fragments, Fragment{
			Index: len(fragments),
			Text:  string(runes[start:end]),
			Start: start,
			End:   end,
		})
		if end == len(runes) {
			return fragments
		}
	}
}
