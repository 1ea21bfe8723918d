package patterns

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadGlossaryExtendsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "glossary.yaml")
	content := "blocking:\n  - Launch Stopper\n  - blocker\nnegative:\n  - block editor\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write glossary: %v", err)
	}

	g, err := LoadGlossary(path)
	if err != nil {
		t.Fatalf("LoadGlossary failed: %v", err)
	}
	lib := New(g.Apply(Options{}))

	blocking := lib.BlockingKeywords()
	if len(blocking) != len(DefaultBlockingKeywords)+1 {
		t.Fatalf("expected defaults plus one phrase, got %v", blocking)
	}
	if blocking[len(blocking)-1] != "launch stopper" {
		t.Fatalf("expected glossary phrase last, got %v", blocking)
	}
	if neg := lib.NegativeKeywords(); neg[len(neg)-1] != "block editor" {
		t.Fatalf("expected negative phrase, got %v", neg)
	}
}

func TestGlossaryNilAndMissing(t *testing.T) {
	var g *Glossary
	if opts := g.Apply(Options{TicketBaseURL: "x"}); opts.TicketBaseURL != "x" || opts.BlockingKeywords != nil {
		t.Fatalf("nil glossary should not change options: %+v", opts)
	}
	if _, err := LoadGlossary(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing glossary")
	}
}
