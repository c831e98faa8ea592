// Package chunk splits raw document text into overlapping segments sized
// for embedding.
//
// The unit of measurement is the word (a maximal run of non-whitespace).
// Chunk texts are exact substrings of the source text, so a document can be
// reconstructed byte-for-byte by concatenating chunks with their overlap
// regions removed.
package chunk

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

// ErrInvalidConfig indicates an unusable chunker configuration.
// It is a caller error and is never retried.
var ErrInvalidConfig = errors.New("invalid chunker config")

// boundaryLookback is how many words before the hard window end we are
// willing to give up to land on a sentence boundary.
const boundaryLookback = 3

// Chunk is a bounded span of a document's text.
type Chunk struct {
	DocumentID string // back-reference, non-owning
	Seq        int    // position within the document, starting at 0
	Text       string // exact substring of the source text
	Start      int    // byte offset of Text within the source
	End        int    // byte offset one past the end of Text
	Overlap    int    // words shared with the previous chunk
}

// Chunker produces overlapping word-window chunks.
type Chunker struct {
	targetWords  int
	overlapWords int
}

// New creates a Chunker. overlap must be non-negative and strictly smaller
// than target.
func New(targetWords, overlapWords int) (*Chunker, error) {
	if targetWords <= 0 {
		return nil, fmt.Errorf("%w: target size %d must be positive", ErrInvalidConfig, targetWords)
	}
	if overlapWords < 0 || overlapWords >= targetWords {
		return nil, fmt.Errorf("%w: overlap %d must be in [0, %d)", ErrInvalidConfig, overlapWords, targetWords)
	}
	return &Chunker{targetWords: targetWords, overlapWords: overlapWords}, nil
}

// span locates one word inside the source text.
type span struct {
	start, end int
}

// Split chunks text into overlapping segments. Empty or all-whitespace
// input yields nil, not an error.
func (c *Chunker) Split(documentID, text string) []Chunk {
	words := scanWords(text)
	if len(words) == 0 {
		return nil
	}

	var chunks []Chunk
	start := 0
	for start < len(words) {
		end := start + c.targetWords
		if end > len(words) {
			end = len(words)
		} else {
			end = preferSentenceEnd(text, words, start+c.overlapWords, end)
		}

		// Spans are chosen so that consecutive chunks always touch or
		// overlap: with zero overlap a chunk runs up to the next word's
		// start, otherwise shared words tie the spans together. The first
		// chunk absorbs leading whitespace and the last trailing
		// whitespace, making Reconstruct byte-exact.
		byteStart := words[start].start
		if start == 0 {
			byteStart = 0
		}
		byteEnd := words[end-1].end
		if end == len(words) {
			byteEnd = len(text)
		} else if c.overlapWords == 0 {
			byteEnd = words[end].start
		}

		overlap := 0
		if len(chunks) > 0 {
			overlap = c.overlapWords
		}
		chunks = append(chunks, Chunk{
			DocumentID: documentID,
			Seq:        len(chunks),
			Text:       text[byteStart:byteEnd],
			Start:      byteStart,
			End:        byteEnd,
			Overlap:    overlap,
		})

		if end == len(words) {
			break
		}
		start = end - c.overlapWords
	}
	return chunks
}

// preferSentenceEnd pulls the window end back to the nearest word that
// terminates a sentence, if one exists within boundaryLookback words.
// Word boundaries already rule out mid-word cuts; this only refines the
// cut to a sentence edge. floor is the last position the window must
// stay past so the next window still advances.
func preferSentenceEnd(text string, words []span, floor, hardEnd int) int {
	for end := hardEnd; end > hardEnd-boundaryLookback && end > floor+1; end-- {
		if endsSentence(text[words[end-1].start:words[end-1].end]) {
			return end
		}
	}
	return hardEnd
}

// endsSentence reports whether a word ends with sentence-final punctuation,
// tolerating a trailing quote or bracket.
func endsSentence(word string) bool {
	trimmed := strings.TrimRightFunc(word, func(r rune) bool {
		return r == '"' || r == '\'' || r == ')' || r == ']'
	})
	return strings.HasSuffix(trimmed, ".") ||
		strings.HasSuffix(trimmed, "!") ||
		strings.HasSuffix(trimmed, "?")
}

// scanWords returns the byte spans of all whitespace-separated words.
func scanWords(text string) []span {
	var words []span
	inWord := false
	start := 0
	for i, r := range text {
		if unicode.IsSpace(r) {
			if inWord {
				words = append(words, span{start, i})
				inWord = false
			}
			continue
		}
		if !inWord {
			start = i
			inWord = true
		}
	}
	if inWord {
		words = append(words, span{start, len(text)})
	}
	return words
}

// Reconstruct joins chunks back into the original text, dropping each
// chunk's leading overlap region. Chunks must be in Seq order and come
// from the same Split call.
func Reconstruct(chunks []Chunk) string {
	if len(chunks) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString(chunks[0].Text)
	for i := 1; i < len(chunks); i++ {
		prev, cur := chunks[i-1], chunks[i]
		if cur.Start >= prev.End {
			b.WriteString(cur.Text)
			continue
		}
		b.WriteString(cur.Text[prev.End-cur.Start:])
	}
	return b.String()
}
