package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ytget/linkgrab/internal/model"
)

func TestCollectLinks(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "links.txt")
	content := "https://x.test/@u/video/2\n\n# a comment\nnot-a-link\nhttps://x.test/@u/video/3\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write input: %v", err)
	}

	links, err := collectLinks([]string{"https://x.test/@u/video/1", "  "}, path)
	if err != nil {
		t.Fatalf("collectLinks: %v", err)
	}

	expected := []string{
		"https://x.test/@u/video/1",
		"https://x.test/@u/video/2",
		"https://x.test/@u/video/3",
	}
	if len(links) != len(expected) {
		t.Fatalf("Expected %d links, got %d: %v", len(expected), len(links), links)
	}
	for i, link := range expected {
		if links[i] != link {
			t.Errorf("links[%d] = %s, expected %s", i, links[i], link)
		}
	}
}

func TestCollectLinks_MissingFile(t *testing.T) {
	if _, err := collectLinks(nil, "/nonexistent/links.txt"); err == nil {
		t.Error("Expected error for missing input file")
	}
}

func TestRenderTaskTable(t *testing.T) {
	tasks := []model.Task{
		{SourceURL: "https://x.test/1", Status: model.TaskStatusCompleted, Progress: 100, Title: "demo"},
		{SourceURL: "https://x.test/2", Status: model.TaskStatusFailed, LastError: "resolution failed: limit"},
	}

	out := renderTaskTable(tasks)
	if !strings.Contains(out, "demo") {
		t.Errorf("Expected completed title in table, got:\n%s", out)
	}
	if !strings.Contains(out, "resolution failed: limit") {
		t.Errorf("Expected failure reason in table, got:\n%s", out)
	}
	if !strings.Contains(out, "Completed") || !strings.Contains(out, "Failed") {
		t.Errorf("Expected statuses in table, got:\n%s", out)
	}
}

func TestVersionCommand(t *testing.T) {
	cmd := newRootCommand()
	out := &strings.Builder{}
	cmd.SetOut(out)
	cmd.SetArgs([]string{"version"})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.Contains(out.String(), "linkgrab") {
		t.Errorf("Expected version output, got '%s'", out.String())
	}
}
