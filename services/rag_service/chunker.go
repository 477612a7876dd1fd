package rag_service

import "strings"

const (
	DefaultChunkSize    = 400
	DefaultChunkOverlap = 50
)

// ChunkText splits text into overlapping windows of at most size bytes.
// Windows prefer to end on the last whitespace before the size limit so
// words are not split mid-way. Consecutive windows start size-overlap
// apart, clamped so the start always advances even when the text has no
// whitespace at all. Whitespace-only input yields no chunks.
func ChunkText(text string, size, overlap int) []string {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 || overlap >= size {
		overlap = DefaultChunkOverlap
	}
	if strings.TrimSpace(text) == "" {
		return nil
	}

	var chunks []string
	start := 0

	for start < len(text) {
		end := start + size

		// Not the last chunk: back off to a word boundary.
		if end < len(text) {
			if spacePos := strings.LastIndex(text[start:end], " "); spacePos > 0 {
				end = start + spacePos
			}
		} else {
			end = len(text)
		}

		if chunk := strings.TrimSpace(text[start:end]); chunk != "" {
			chunks = append(chunks, chunk)
		}

		next := start + size - overlap
		if next <= start {
			next = start + 1
		}
		start = next
	}

	if len(chunks) == 0 {
		if len(text) > size {
			return []string{text[:size]}
		}
		return []string{text}
	}
	return chunks
}
