package adapter

import "unicode/utf8"

// DefaultChunkSize is the number of runes per re-emitted delta.
const DefaultChunkSize = 10

// Chunk splits s into consecutive slices of at most size runes. Slicing on
// rune boundaries keeps every chunk valid UTF-8, and the chunks concatenate
// back to s exactly. An empty s yields no chunks.
func Chunk(s string, size int) []string {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if s == "" {
		return nil
	}
	chunks := make([]string, 0, utf8.RuneCountInString(s)/size+1)
	start, n := 0, 0
	for i := range s {
		if n == size {
			chunks = append(chunks, s[start:i])
			start, n = i, 0
		}
		n++
	}
	return append(chunks, s[start:])
}
