package comfy

import (
	"os"
	"path/filepath"
	"testing"
)

const sampleWorkflow = `{
	"6": {"class_type": "CLIPTextEncode", "inputs": {"text": "placeholder"}},
	"9": {"class_type": "SaveImage", "inputs": {"filename_prefix": "out"}},
	"31": {"class_type": "KSampler", "inputs": {"seed": 0, "steps": 20}}
}`

func writeWorkflow(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "workflow.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadWorkflow(t *testing.T) {
	w, err := LoadWorkflow(writeWorkflow(t, sampleWorkflow))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(w) != 3 {
		t.Fatalf("got %d nodes, want 3", len(w))
	}
}

func TestLoadWorkflowMissing(t *testing.T) {
	if _, err := LoadWorkflow(filepath.Join(t.TempDir(), "nope.json")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadWorkflowRejectsMalformed(t *testing.T) {
	cases := map[string]string{
		"not json":      `{"6": `,
		"not an object": `[1, 2]`,
		"empty graph":   `{}`,
		"node without inputs": `{"6": {"class_type": "CLIPTextEncode"}}`,
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := LoadWorkflow(writeWorkflow(t, content)); err == nil {
				t.Fatalf("expected validation error for %s", name)
			}
		})
	}
}

func TestWorkflowPatching(t *testing.T) {
	w, err := LoadWorkflow(writeWorkflow(t, sampleWorkflow))
	if err != nil {
		t.Fatal(err)
	}

	if err := w.SetPrompt("6", "a cute cat"); err != nil {
		t.Fatalf("set prompt: %v", err)
	}
	if err := w.SetSeed("31", 12345); err != nil {
		t.Fatalf("set seed: %v", err)
	}
	if err := w.SetFilenamePrefix("9", "cat_20250101_120000"); err != nil {
		t.Fatalf("set prefix: %v", err)
	}

	if got := w["6"]["inputs"].(map[string]any)["text"]; got != "a cute cat" {
		t.Errorf("prompt = %v", got)
	}
	if got := w["31"]["inputs"].(map[string]any)["seed"]; got != int64(12345) {
		t.Errorf("seed = %v", got)
	}
	if got := w["9"]["inputs"].(map[string]any)["filename_prefix"]; got != "cat_20250101_120000" {
		t.Errorf("prefix = %v", got)
	}
}

func TestWorkflowPatchUnknownNode(t *testing.T) {
	w, err := LoadWorkflow(writeWorkflow(t, sampleWorkflow))
	if err != nil {
		t.Fatal(err)
	}
	if err := w.SetPrompt("99", "text"); err == nil {
		t.Fatal("expected error for unknown node")
	}
}
