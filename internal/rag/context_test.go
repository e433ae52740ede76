package rag

import (
	"strings"
	"testing"
)

func TestBuildEntriesContiguousIndices(t *testing.T) {
	cands := make([]Candidate, 4)
	entries := BuildEntries(cands)
	for i, e := range entries {
		if e.SourceIndex != i+1 {
			t.Fatalf("entry %d has source index %d", i, e.SourceIndex)
		}
	}
}

func TestBuildPromptContainsNumberedBlocks(t *testing.T) {
	entries := entriesForTest(5)
	prompt := BuildPrompt("What is blockchain scalability?", entries)
	for i := 1; i <= 5; i++ {
		header := "[Source " + string(rune('0'+i)) + "]"
		if !strings.Contains(prompt, header) {
			t.Fatalf("prompt missing %s", header)
		}
	}
	if !strings.Contains(prompt, "Question: What is blockchain scalability?") {
		t.Fatal("prompt missing question")
	}
	if !strings.Contains(prompt, "(Source 2)") {
		t.Fatal("prompt missing citation marker instruction")
	}
}

func TestRenderContextFallsBackToFilename(t *testing.T) {
	entries := entriesForTest(1)
	entries[0].Chunk.Title = ""
	out := RenderContext(entries)
	if !strings.Contains(out, "paper.pdf") {
		t.Fatalf("expected filename fallback in header: %q", out)
	}
}

func TestSourcesUsedDistinctInOrder(t *testing.T) {
	entries := entriesForTest(3)
	entries[0].Chunk.Filename = "a.pdf"
	entries[1].Chunk.Filename = "b.pdf"
	entries[2].Chunk.Filename = "a.pdf"
	got := SourcesUsed(entries)
	if len(got) != 2 || got[0] != "a.pdf" || got[1] != "b.pdf" {
		t.Fatalf("unexpected sources: %v", got)
	}
}

func TestPaperIDsUsedDistinct(t *testing.T) {
	entries := entriesForTest(3)
	entries[2].Chunk.PaperID = entries[0].Chunk.PaperID
	got := PaperIDsUsed(entries)
	if len(got) != 2 {
		t.Fatalf("unexpected paper ids: %v", got)
	}
}
