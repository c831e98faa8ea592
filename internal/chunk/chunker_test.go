package chunk

import (
	"errors"
	"strings"
	"testing"
)

func TestNewValidation(t *testing.T) {
	tests := []struct {
		name    string
		target  int
		overlap int
		wantErr bool
	}{
		{name: "valid", target: 4, overlap: 1, wantErr: false},
		{name: "zero overlap", target: 4, overlap: 0, wantErr: false},
		{name: "zero target", target: 0, overlap: 0, wantErr: true},
		{name: "negative target", target: -1, overlap: 0, wantErr: true},
		{name: "negative overlap", target: 4, overlap: -1, wantErr: true},
		{name: "overlap equals target", target: 4, overlap: 4, wantErr: true},
		{name: "overlap exceeds target", target: 4, overlap: 5, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.target, tt.overlap)
			if (err != nil) != tt.wantErr {
				t.Fatalf("New(%d, %d) error = %v, wantErr %v", tt.target, tt.overlap, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("error %v is not ErrInvalidConfig", err)
			}
		})
	}
}

func TestSplitSentenceBoundary(t *testing.T) {
	c, err := New(4, 1)
	if err != nil {
		t.Fatal(err)
	}

	chunks := c.Split("doc-1", "The cat sat. The dog ran.")
	want := []string{"The cat sat.", "sat. The dog ran."}

	if len(chunks) != len(want) {
		t.Fatalf("got %d chunks, want %d: %#v", len(chunks), len(want), chunks)
	}
	for i, w := range want {
		if chunks[i].Text != w {
			t.Errorf("chunk %d = %q, want %q", i, chunks[i].Text, w)
		}
		if chunks[i].Seq != i {
			t.Errorf("chunk %d Seq = %d, want %d", i, chunks[i].Seq, i)
		}
		if chunks[i].DocumentID != "doc-1" {
			t.Errorf("chunk %d DocumentID = %q", i, chunks[i].DocumentID)
		}
	}
	if chunks[0].Overlap != 0 {
		t.Errorf("first chunk Overlap = %d, want 0", chunks[0].Overlap)
	}
	if chunks[1].Overlap != 1 {
		t.Errorf("second chunk Overlap = %d, want 1", chunks[1].Overlap)
	}
}

func TestSplitEmptyInput(t *testing.T) {
	c, err := New(8, 2)
	if err != nil {
		t.Fatal(err)
	}

	for _, text := range []string{"", "   ", "\n\t \n"} {
		if got := c.Split("doc", text); got != nil {
			t.Errorf("Split(%q) = %#v, want nil", text, got)
		}
	}
}

func TestSplitHardCutWithoutBoundary(t *testing.T) {
	c, err := New(3, 1)
	if err != nil {
		t.Fatal(err)
	}

	// No sentence punctuation anywhere: every cut is a hard cut at the
	// window size, but still on a word boundary.
	chunks := c.Split("doc", "alpha beta gamma delta epsilon")
	if len(chunks) != 2 {
		t.Fatalf("got %d chunks: %#v", len(chunks), chunks)
	}
	if chunks[0].Text != "alpha beta gamma" {
		t.Errorf("chunk 0 = %q", chunks[0].Text)
	}
	if chunks[1].Text != "gamma delta epsilon" {
		t.Errorf("chunk 1 = %q", chunks[1].Text)
	}
}

func TestReconstructInvariant(t *testing.T) {
	texts := []string{
		"The cat sat. The dog ran.",
		"one two three four five six seven eight nine ten",
		"A single short text.",
		"word",
		"Line one.\nLine two continues here. And a third sentence\tfollows, with mixed   whitespace.",
		"  leading and trailing whitespace preserved  ",
	}
	configs := []struct{ target, overlap int }{
		{4, 1}, {4, 0}, {3, 2}, {10, 3}, {2, 1},
	}

	for _, text := range texts {
		for _, cfg := range configs {
			c, err := New(cfg.target, cfg.overlap)
			if err != nil {
				t.Fatal(err)
			}
			chunks := c.Split("doc", text)
			if strings.TrimSpace(text) == "" {
				continue
			}
			if got := Reconstruct(chunks); got != text {
				t.Errorf("target=%d overlap=%d: Reconstruct = %q, want %q",
					cfg.target, cfg.overlap, got, text)
			}
		}
	}
}

func TestSplitChunkSizeBound(t *testing.T) {
	c, err := New(5, 2)
	if err != nil {
		t.Fatal(err)
	}

	text := strings.Repeat("lorem ipsum dolor sit amet consectetur ", 20)
	for _, ch := range c.Split("doc", text) {
		n := len(strings.Fields(ch.Text))
		if n > 5 {
			t.Errorf("chunk %d has %d words, exceeds target 5: %q", ch.Seq, n, ch.Text)
		}
		if n == 0 {
			t.Errorf("chunk %d is empty", ch.Seq)
		}
	}
}
