package suggestions

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaultsWithoutPath(t *testing.T) {
	t.Parallel()

	catalog, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	all := catalog.All()
	if len(all) == 0 {
		t.Fatal("expected built-in suggestions")
	}
	for _, s := range all {
		if s.Prompt == "" || s.Title == "" {
			t.Fatalf("incomplete suggestion: %+v", s)
		}
	}
}

func TestLoadFromYAML(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "suggestions.yaml")
	content := `
suggestions:
  - title: Find a PM
    prompt: Who is the PM for Data Science Pipelines?
  - prompt: Who knows about serving runtimes?
  - title: Broken entry without prompt
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write catalog: %v", err)
	}

	catalog, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	all := catalog.All()
	if len(all) != 2 {
		t.Fatalf("expected 2 suggestions (promptless entries skipped), got %d", len(all))
	}
	if all[0].Title != "Find a PM" {
		t.Fatalf("unexpected title: %q", all[0].Title)
	}
	// Entries without a title fall back to their prompt.
	if all[1].Title != all[1].Prompt {
		t.Fatalf("expected title fallback, got %+v", all[1])
	}
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("{{not yaml"), 0644); err != nil {
		t.Fatalf("write catalog: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestSample(t *testing.T) {
	t.Parallel()

	catalog, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if got := catalog.Sample(2); len(got) != 2 {
		t.Fatalf("expected 2 sampled suggestions, got %d", len(got))
	}
	if got := catalog.Sample(100); len(got) != len(catalog.All()) {
		t.Fatalf("oversized sample must return everything, got %d", len(got))
	}
	if got := catalog.Sample(0); len(got) != len(catalog.All()) {
		t.Fatalf("zero sample must return everything, got %d", len(got))
	}
}
