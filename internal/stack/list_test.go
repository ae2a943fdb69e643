package stack

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
)

func TestComposeFileExists(t *testing.T) {
	dir := t.TempDir()
	if ComposeFileExists(dir, "web") {
		t.Fatal("expected false before any stack directory exists")
	}

	stackDir := filepath.Join(dir, "web")
	if err := os.MkdirAll(stackDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if ComposeFileExists(dir, "web") {
		t.Fatal("expected false for a directory with no compose file")
	}

	if err := os.WriteFile(filepath.Join(stackDir, "compose.yaml"), []byte("services: {}\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if !ComposeFileExists(dir, "web") {
		t.Fatal("expected true once a compose file exists")
	}
}

func TestGetStackReturnsManagedDirectoryBeforeConsultingDaemon(t *testing.T) {
	dir := t.TempDir()
	stackDir := filepath.Join(dir, "web")
	if err := os.MkdirAll(stackDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(stackDir, "compose.yaml"), []byte("services: {}\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	s, err := GetStack(context.Background(), dir, "", "web", "")
	if err != nil {
		t.Fatalf("GetStack: %v", err)
	}
	if !s.IsManaged() {
		t.Fatal("expected the returned stack to be managed")
	}
	if s.ComposeFileName != "compose.yaml" {
		t.Fatalf("ComposeFileName = %q, want compose.yaml", s.ComposeFileName)
	}
}

func TestGetStackListIncludesManagedStacksEvenWithoutDocker(t *testing.T) {
	if _, err := exec.LookPath("docker"); err != nil {
		t.Skip("docker not available in PATH")
	}
	dir := t.TempDir()
	stackDir := filepath.Join(dir, "web")
	if err := os.MkdirAll(stackDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(stackDir, "compose.yaml"), []byte("services: {}\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	list, err := GetStackList(context.Background(), dir, "", "")
	if err != nil {
		t.Fatalf("GetStackList: %v", err)
	}
	s, ok := list["web"]
	if !ok {
		t.Fatal("expected \"web\" in the aggregated list")
	}
	if s.ComposeFileName != "compose.yaml" {
		t.Fatalf("ComposeFileName = %q, want compose.yaml", s.ComposeFileName)
	}
}

func TestGetStackListEmptyStacksDirReturnsEmptyMap(t *testing.T) {
	if _, err := exec.LookPath("docker"); err != nil {
		t.Skip("docker not available in PATH")
	}
	list, err := GetStackList(context.Background(), t.TempDir(), "", "")
	if err != nil {
		t.Fatalf("GetStackList: %v", err)
	}
	if len(list) != 0 {
		t.Fatalf("expected an empty list for an empty stacks directory, got %v", list)
	}
}

func TestGetStackListMissingStacksDirDoesNotError(t *testing.T) {
	list, err := GetStackList(context.Background(), filepath.Join(t.TempDir(), "does-not-exist"), "", "")
	if err != nil {
		t.Fatalf("GetStackList: %v", err)
	}
	if len(list) != 0 {
		t.Fatalf("expected an empty list, got %v", list)
	}
}
