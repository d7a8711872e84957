package memory

import (
	"strings"
)

const (
	// DefaultChunkSize is the target chunk length in bytes.
	DefaultChunkSize = 2000
	// DefaultChunkOverlap is carried from the tail of one chunk into the next.
	DefaultChunkOverlap = 200
)

// SplitText splits text into chunks of at most size bytes on line boundaries,
// falling back to word boundaries for lines longer than size. Consecutive
// chunks share up to overlap bytes.
func SplitText(text string, size, overlap int) []string {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}

	var lines []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		lines = append(lines, splitLongLine(line, size-overlap-2)...)
	}

	var chunks []string
	var current strings.Builder
	for _, line := range lines {
		if current.Len() > 0 && current.Len()+len(line)+1 > size {
			chunkText := current.String()
			chunks = append(chunks, strings.TrimSpace(chunkText))
			current.Reset()
			if tail := overlapTail(chunkText, overlap); tail != "" {
				current.WriteString(tail)
				current.WriteString("\n")
			}
		}
		current.WriteString(line)
		current.WriteString("\n")
	}
	if rest := strings.TrimSpace(current.String()); rest != "" {
		chunks = append(chunks, rest)
	}
	return chunks
}

// splitLongLine breaks a line into word-bounded pieces of at most limit bytes.
// A single word longer than limit is cut hard.
func splitLongLine(line string, limit int) []string {
	if limit <= 0 || len(line) <= limit {
		return []string{line}
	}

	var pieces []string
	var b strings.Builder
	for _, word := range strings.Fields(line) {
		for len(word) > limit {
			if b.Len() > 0 {
				pieces = append(pieces, b.String())
				b.Reset()
			}
			pieces = append(pieces, word[:limit])
			word = word[limit:]
		}
		if b.Len() > 0 && b.Len()+1+len(word) > limit {
			pieces = append(pieces, b.String())
			b.Reset()
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(word)
	}
	if b.Len() > 0 {
		pieces = append(pieces, b.String())
	}
	return pieces
}

// overlapTail returns at most n trailing bytes of s, starting at a word boundary.
func overlapTail(s string, n int) string {
	s = strings.TrimSpace(s)
	if n <= 0 || s == "" {
		return ""
	}
	if len(s) <= n {
		return s
	}
	tail := s[len(s)-n:]
	if i := strings.IndexAny(tail, " \n"); i >= 0 && i < len(tail)-1 {
		tail = tail[i+1:]
	}
	return strings.TrimSpace(tail)
}
