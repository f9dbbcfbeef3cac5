package stats

import (
	"archive/zip"
	"os"
	"path/filepath"
	"testing"
)

const archiveDescriptor = `{
	"@id": "http://example.com/cases#pg",
	"name": "PostgreSQL load",
	"description": "",
	"steps": [
		{"@id": "#s1", "name": "Load", "resource": "PostgreSQL", "command": "load", "parameters": {"file": "data.csv", "table": "t"}}
	]
}`

func TestArchive_BundlesPartialResults(t *testing.T) {
	root := t.TempDir()

	complete := filepath.Join(root, "complete")
	partial := filepath.Join(root, "partial")
	for _, dir := range []string{complete, partial} {
		if err := os.MkdirAll(filepath.Join(dir, "results"), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(filepath.Join(dir, "metadata.json"), []byte(archiveDescriptor), 0o644); err != nil {
			t.Fatalf("write descriptor: %v", err)
		}
	}
	for _, name := range []string{AggregatedFile, SummaryFile} {
		if err := os.WriteFile(filepath.Join(complete, "results", name), []byte("step\n"), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	// The partial case has a summary but no aggregated table.
	if err := os.WriteFile(filepath.Join(partial, "results", SummaryFile), []byte("step\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	outPath := filepath.Join(t.TempDir(), "results.zip")
	if err := Archive(root, outPath); err != nil {
		t.Fatalf("Archive: %v", err)
	}

	r, err := zip.OpenReader(outPath)
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	defer r.Close()

	names := make(map[string]bool)
	for _, f := range r.File {
		names[f.Name] = true
	}
	for _, want := range []string{
		"complete/results/aggregated.csv",
		"complete/results/summary.csv",
		"partial/results/summary.csv",
	} {
		if !names[want] {
			t.Fatalf("archive missing %s, has %v", want, names)
		}
	}
	if names["partial/results/aggregated.csv"] {
		t.Fatalf("archive must not contain files that do not exist")
	}
}
