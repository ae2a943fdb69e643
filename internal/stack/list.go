package stack

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/composeforge/composeforge/internal/composeconst"
	"github.com/composeforge/composeforge/internal/terminal"
)

// selfStackName is excluded from the unmanaged side of the aggregator: a
// composeforge instance that deploys itself via compose would otherwise
// see its own control-plane project listed as an unmanaged stack the
// moment it has no local directory for it (e.g. the directory was moved
// out of stacksDir). Mirrors original_source's equivalent self-exclusion.
const selfStackName = "composeforge"

// ComposeFileExists reports whether any accepted compose filename exists
// directly under stacksDir/name.
func ComposeFileExists(stacksDir, name string) bool {
	dir := filepath.Join(stacksDir, name)
	for _, fn := range composeconst.AcceptedComposeFileNames {
		if _, err := os.Stat(filepath.Join(dir, fn)); err == nil {
			return true
		}
	}
	return false
}

// GetStatusList runs `docker compose ls --all --format json` and returns
// project name -> status code. A non-zero exit or unparsable output
// yields an empty map rather than an error; failing to run docker at all
// is returned as an error.
func GetStatusList(ctx context.Context) (map[string]int, error) {
	out := make(map[string]int)

	stdout, code, err := terminal.ExecOneShot(ctx, "docker", []string{"compose", "ls", "--all", "--format", "json"}, "")
	if err != nil {
		return out, fmt.Errorf("run docker compose ls: %w", err)
	}
	if code != 0 {
		return out, nil
	}

	var items []composeListItem
	if err := json.Unmarshal(stdout, &items); err != nil {
		return out, nil
	}
	for _, item := range items {
		out[item.Name] = StatusConvert(item.Status)
	}
	return out, nil
}

// GetStack resolves a single stack by name: a directory under stacksDir
// wins (managed), otherwise it falls back to the aggregated list to find
// an unmanaged one known only to the daemon.
func GetStack(ctx context.Context, stacksDir, globalEnvPath, name, endpoint string) (*Stack, error) {
	dirPath := filepath.Join(stacksDir, name)
	if info, err := os.Stat(dirPath); err == nil && info.IsDir() {
		s := New(stacksDir, globalEnvPath, name, endpoint)
		s.DetectComposeFile()
		s.Status = composeconst.StatusUnknown
		s.ConfigFilePath = dirPath
		return s, nil
	}

	list, err := GetStackList(ctx, stacksDir, globalEnvPath, endpoint)
	if err != nil {
		return nil, err
	}
	if s, ok := list[name]; ok {
		return s, nil
	}
	return nil, fmt.Errorf("stack not found")
}

// GetStackList produces the unified managed+daemon listing. It scans
// stacksDir for subdirectories with an accepted compose filename (the
// managed set, status CreatedFile until corrected below), then runs
// `docker compose ls --all --format json` (the daemon set) and merges:
// a name present in both keeps its managed compose filename but takes its
// status and config path from the daemon; a name present only in the
// daemon set is added as unmanaged.
func GetStackList(ctx context.Context, stacksDir, globalEnvPath, endpoint string) (map[string]*Stack, error) {
	stackList := make(map[string]*Stack)

	entries, err := os.ReadDir(stacksDir)
	if err != nil {
		return stackList, nil
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !ComposeFileExists(stacksDir, name) {
			continue
		}
		s := New(stacksDir, globalEnvPath, name, endpoint)
		s.DetectComposeFile()
		s.Status = composeconst.StatusCreatedFile
		stackList[name] = s
	}

	stdout, code, err := terminal.ExecOneShot(ctx, "docker", []string{"compose", "ls", "--all", "--format", "json"}, "")
	if err != nil {
		return stackList, fmt.Errorf("run docker compose ls: %w", err)
	}
	if code != 0 {
		return stackList, nil
	}

	var items []composeListItem
	if err := json.Unmarshal(stdout, &items); err != nil {
		return stackList, nil
	}

	for _, item := range items {
		if item.Name == selfStackName {
			if _, managed := stackList[item.Name]; !managed {
				continue
			}
		}

		status := StatusConvert(item.Status)
		if s, ok := stackList[item.Name]; ok {
			s.Status = status
			s.ConfigFilePath = item.ConfigFiles
			continue
		}
		s := New(stacksDir, globalEnvPath, item.Name, endpoint)
		s.Status = status
		s.ConfigFilePath = item.ConfigFiles
		stackList[item.Name] = s
	}

	return stackList, nil
}
