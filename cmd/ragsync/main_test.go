package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hyperjump/ragsync/internal/indexer"
	"github.com/hyperjump/ragsync/internal/models"
)

// workspace writes a config for a mock-embedded corpus and returns its path and the corpus root.
func workspace(t *testing.T, extra string) (configPath, root string) {
	t.Helper()
	dir := t.TempDir()
	root = filepath.Join(dir, "knowledge")
	if err := os.MkdirAll(root, 0o755); err != nil {
		t.Fatal(err)
	}
	content := fmt.Sprintf(`corpus:
  root: %s
data:
  dir: %s
embedding:
  provider: mock
  dimensions: 8
%s`, root, filepath.Join(dir, "data"), extra)
	configPath = filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return configPath, root
}

func writeDoc(t *testing.T, root, name, text string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(root, name), []byte(text), 0o600); err != nil {
		t.Fatal(err)
	}
}

func runCLI(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestRun_syncStatusSearch(t *testing.T) {
	cfgPath, root := workspace(t, "")
	writeDoc(t, root, "contact.md", "my email address is someone@example.com")
	writeDoc(t, root, "todo.md", "buy milk")

	code, out, errOut := runCLI(t, "--config", cfgPath, "sync")
	if code != exitOK {
		t.Fatalf("sync exit = %d, stderr: %s", code, errOut)
	}
	if !strings.Contains(out, "added:     2") {
		t.Errorf("sync output:\n%s", out)
	}

	code, out, _ = runCLI(t, "--config", cfgPath, "sync", "--output", "json")
	if code != exitOK {
		t.Fatalf("second sync exit = %d", code)
	}
	var summary models.SyncSummary
	if err := json.Unmarshal([]byte(out), &summary); err != nil {
		t.Fatalf("sync json: %v\n%s", err, out)
	}
	if summary.ChunksAdded != 0 || summary.ChunksUnchanged != 2 || summary.DocumentsReused != 2 {
		t.Errorf("no-op summary = %+v", summary)
	}

	code, out, _ = runCLI(t, "--config", cfgPath, "status", "-o", "json")
	if code != exitOK {
		t.Fatalf("status exit = %d", code)
	}
	var st indexer.Status
	if err := json.Unmarshal([]byte(out), &st); err != nil {
		t.Fatalf("status json: %v\n%s", err, out)
	}
	if st.GenerationRecords != 2 || st.IndexSize != 2 || st.LedgerEntries != 2 {
		t.Errorf("status = %+v", st)
	}

	code, out, _ = runCLI(t, "--config", cfgPath, "search", "-k", "1", "my", "email", "address", "is", "someone@example.com")
	if code != exitOK {
		t.Fatalf("search exit = %d", code)
	}
	if !strings.Contains(out, "contact.md") || strings.Contains(out, "todo.md") {
		t.Errorf("search output:\n%s", out)
	}
}

func TestRun_dryRunAndOverrides(t *testing.T) {
	cfgPath, _ := workspace(t, "")
	other := t.TempDir()
	writeDoc(t, other, "x.md", "elsewhere")
	dataDir := filepath.Join(t.TempDir(), "state")

	code, out, errOut := runCLI(t, "--config", cfgPath, "sync", "--dry-run", "--root", other, "--data", dataDir)
	if code != exitOK {
		t.Fatalf("exit = %d, stderr: %s", code, errOut)
	}
	if !strings.HasPrefix(out, "Dry run:") || !strings.Contains(out, "added:     1") {
		t.Errorf("dry run output:\n%s", out)
	}
	if _, err := os.Stat(dataDir); !os.IsNotExist(err) {
		t.Errorf("dry run created %s", dataDir)
	}
}

func TestRun_exitCodes(t *testing.T) {
	cfgPath, _ := workspace(t, "")
	badChunking, _ := workspace(t, "chunking:\n  size: 100\n  overlap: 100\n")

	tests := []struct {
		name string
		args []string
		want int
	}{
		{"invalid chunking", []string{"--config", badChunking, "sync"}, exitConfig},
		{"missing config file", []string{"--config", filepath.Join(t.TempDir(), "nope.yaml"), "sync"}, exitConfig},
		{"missing corpus root", []string{"--config", cfgPath, "sync", "--root", filepath.Join(t.TempDir(), "missing")}, exitConfig},
		{"unknown flag", []string{"--config", cfgPath, "sync", "--bogus"}, exitConfig},
		{"unknown output", []string{"--config", cfgPath, "status", "--output", "yaml"}, exitConfig},
		{"search without query", []string{"--config", cfgPath, "search"}, exitConfig},
		{"keyword search disabled", []string{"--config", cfgPath, "search", "--keyword", "fox"}, exitConfig},
		{"empty sync", []string{"--config", cfgPath, "sync"}, exitOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, _, errOut := runCLI(t, tt.args...)
			if code != tt.want {
				t.Errorf("exit = %d, want %d; stderr: %s", code, tt.want, errOut)
			}
		})
	}
}

func TestRun_runInProgressExitsOne(t *testing.T) {
	cfgPath, _ := workspace(t, "")
	dataDir := filepath.Join(filepath.Dir(cfgPath), "data")
	lock, err := indexer.AcquireRunLock(dataDir)
	if err != nil {
		t.Fatal(err)
	}
	defer lock.Release()

	code, _, errOut := runCLI(t, "--config", cfgPath, "sync")
	if code != exitFailed {
		t.Errorf("exit = %d, want %d", code, exitFailed)
	}
	if !strings.Contains(errOut, "already in progress") {
		t.Errorf("stderr: %s", errOut)
	}
}

func TestRun_keywordSearch(t *testing.T) {
	cfgPath, root := workspace(t, "keyword:\n  enabled: true\n")
	writeDoc(t, root, "animals.md", "the quick brown fox")
	writeDoc(t, root, "food.md", "bread and butter")
	if code, _, errOut := runCLI(t, "--config", cfgPath, "sync"); code != exitOK {
		t.Fatalf("sync exit = %d: %s", code, errOut)
	}
	code, out, _ := runCLI(t, "--config", cfgPath, "search", "--keyword", "fox")
	if code != exitOK {
		t.Fatalf("search exit = %d", code)
	}
	if !strings.Contains(out, "animals.md") || strings.Contains(out, "food.md") {
		t.Errorf("keyword search output:\n%s", out)
	}
}

func TestRun_version(t *testing.T) {
	code, out, _ := runCLI(t, "version")
	if code != exitOK || !strings.Contains(out, "ragsync version "+version) {
		t.Errorf("version: %d %q", code, out)
	}
}

func TestBuildSearchQuery(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		expected string
	}{
		{"single word", []string{"email"}, "email"},
		{"multiple words", []string{"release", "plan"}, "release plan"},
		{"single quoted phrase", []string{"release plan"}, "release plan"},
		{"empty args", []string{}, ""},
		{"blank args", []string{"  ", "  "}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := buildSearchQuery(tt.args); got != tt.expected {
				t.Errorf("buildSearchQuery(%v) = %q, want %q", tt.args, got, tt.expected)
			}
		})
	}
}

func TestLoadConfig_explicitPath(t *testing.T) {
	cfgPath, root := workspace(t, "")
	cfg, path, err := loadConfig(cfgPath)
	if err != nil {
		t.Fatal(err)
	}
	if path != cfgPath || cfg.Corpus.Root != root {
		t.Errorf("loadConfig = %q root %q", path, cfg.Corpus.Root)
	}
}
