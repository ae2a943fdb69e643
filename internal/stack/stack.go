// Package stack implements the Stack object and engine (components D and
// E): the on-disk compose project abstraction, Compose argument assembly,
// status derivation from the docker daemon, and the managed+daemon stack
// list aggregator. Grounded on original_source/src/stack.rs.
package stack

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/composeforge/composeforge/internal/composeconst"
)

var nameRE = regexp.MustCompile(`^[a-z0-9_-]+$`)

// Stack is a named compose project rooted at {stacksDir}/{name}. Its
// compose YAML and .env content are read lazily and cached once loaded, so
// repeated calls to ComposeYAML/ComposeEnv don't re-hit the filesystem.
type Stack struct {
	Name            string
	Status          int
	Endpoint        string
	StacksDir       string
	GlobalEnvPath   string
	ComposeFileName string
	// ConfigFilePath is the docker-reported compose config path for a
	// stack discovered only via `docker compose ls` (no local directory).
	ConfigFilePath string

	composeYAML *string
	composeEnv  *string
}

// New constructs a Stack whose compose YAML/env are read from disk on
// first access.
func New(stacksDir, globalEnvPath, name, endpoint string) *Stack {
	return &Stack{
		Name:            name,
		Status:          composeconst.StatusUnknown,
		Endpoint:        endpoint,
		StacksDir:       stacksDir,
		GlobalEnvPath:   globalEnvPath,
		ComposeFileName: "compose.yaml",
	}
}

// NewWithContent constructs a Stack whose compose YAML/env are already
// known (used by saveStack before the files exist on disk yet).
func NewWithContent(stacksDir, globalEnvPath, name, endpoint, composeYAML, composeEnv string) *Stack {
	s := New(stacksDir, globalEnvPath, name, endpoint)
	s.composeYAML = &composeYAML
	s.composeEnv = &composeEnv
	return s
}

// Path is the stack's directory, relative to StacksDir's own form (may be
// relative or absolute depending on how StacksDir was configured).
func (s *Stack) Path() string {
	return filepath.Join(s.StacksDir, s.Name)
}

// FullPath is Path resolved to an absolute path.
func (s *Stack) FullPath() string {
	p := s.Path()
	if filepath.IsAbs(p) {
		return p
	}
	wd, err := os.Getwd()
	if err != nil {
		return p
	}
	return filepath.Join(wd, p)
}

// IsManaged reports whether this stack has a directory under StacksDir —
// the invariant that distinguishes a managed stack from one known only to
// the docker daemon.
func (s *Stack) IsManaged() bool {
	info, err := os.Stat(s.Path())
	return err == nil && info.IsDir()
}

// ComposeYAML returns the compose file content, reading it from disk on
// first call. A missing file yields an empty string, not an error — the
// stack may not have been saved yet.
func (s *Stack) ComposeYAML() (string, error) {
	if s.composeYAML != nil {
		return *s.composeYAML, nil
	}
	data, err := os.ReadFile(filepath.Join(s.Path(), s.ComposeFileName))
	if err != nil {
		empty := ""
		s.composeYAML = &empty
		return "", nil
	}
	content := string(data)
	s.composeYAML = &content
	return content, nil
}

// ComposeEnv returns the .env content, same lazy-load-once behavior as
// ComposeYAML.
func (s *Stack) ComposeEnv() (string, error) {
	if s.composeEnv != nil {
		return *s.composeEnv, nil
	}
	data, err := os.ReadFile(filepath.Join(s.Path(), ".env"))
	if err != nil {
		empty := ""
		s.composeEnv = &empty
		return "", nil
	}
	content := string(data)
	s.composeEnv = &content
	return content, nil
}

// DetectComposeFile scans the stack's directory for the first accepted
// compose filename, in composeconst.AcceptedComposeFileNames order,
// falling back to "compose.yaml" (the default for a brand new stack) if
// none is found.
func (s *Stack) DetectComposeFile() {
	dir := s.Path()
	for _, name := range composeconst.AcceptedComposeFileNames {
		if _, err := os.Stat(filepath.Join(dir, name)); err == nil {
			s.ComposeFileName = name
			return
		}
	}
	s.ComposeFileName = "compose.yaml"
}

// Validate checks the stack name, compose YAML syntax and .env format
// before a save. It never renames an existing accepted compose variant —
// callers should call DetectComposeFile first so ComposeFileName reflects
// whatever is already on disk.
func (s *Stack) Validate() error {
	if s.Name == "" {
		return errors.New("stack name must not be empty")
	}
	if !nameRE.MatchString(s.Name) {
		return errors.New("stack name can only contain [a-z0-9_-]")
	}

	yamlContent, err := s.ComposeYAML()
	if err != nil {
		return err
	}
	var doc any
	if err := yaml.Unmarshal([]byte(yamlContent), &doc); err != nil {
		return fmt.Errorf("invalid yaml format: %w", err)
	}

	envContent, err := s.ComposeEnv()
	if err != nil {
		return err
	}
	// Guards against "setenv: The parameter is incorrect" on Windows,
	// which only happens when there is exactly one line and it has no
	// "=" in it.
	lines := splitLines(envContent)
	if len(lines) == 1 && lines[0] != "" && !strings.Contains(lines[0], "=") {
		return errors.New("invalid .env format")
	}

	return nil
}

// splitLines mimics Rust's str::lines(): split on "\n", trim a trailing
// "\r" from each piece, and drop the single empty trailing element a
// newline-terminated string produces. An empty string has zero lines.
func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, "\n")
	if parts[len(parts)-1] == "" {
		parts = parts[:len(parts)-1]
	}
	for i, p := range parts {
		parts[i] = strings.TrimSuffix(p, "\r")
	}
	return parts
}

// composeOptions builds the `docker compose ...` argument list: a global
// env file ahead of a per-stack one (each included independently of the
// other, per the compose argument assembly rule), then the verb and its
// own arguments.
func (s *Stack) composeOptions(command string, extra ...string) []string {
	opts := []string{"compose"}

	if _, err := os.Stat(s.GlobalEnvPath); err == nil {
		opts = append(opts, "--env-file", filepath.Join("..", "global.env"))
	}
	if _, err := os.Stat(filepath.Join(s.Path(), ".env")); err == nil {
		opts = append(opts, "--env-file", "./.env")
	}

	opts = append(opts, command)
	opts = append(opts, extra...)
	return opts
}

// atomicWrite writes data to a sibling temp file then renames it into
// place, so a crash mid-write never leaves a partially written compose
// file or .env behind.
func atomicWrite(path string, data []byte) error {
	tmp := path + ".tmp-" + strconv.FormatInt(time.Now().UnixNano(), 36)
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Save validates and persists the stack's compose YAML and (if present or
// non-empty) .env to disk. isAdd controls whether a new directory must be
// created (failing if one already exists) or an existing one reused.
func (s *Stack) Save(isAdd bool) error {
	if err := s.Validate(); err != nil {
		return err
	}

	dir := s.Path()
	if isAdd {
		if _, err := os.Stat(dir); err == nil {
			return errors.New("stack name already exists")
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create stack directory: %w", err)
		}
	} else if _, err := os.Stat(dir); err != nil {
		return errors.New("stack not found")
	}

	composePath := filepath.Join(dir, s.ComposeFileName)
	yamlContent, err := s.ComposeYAML()
	if err != nil {
		return err
	}
	if err := atomicWrite(composePath, []byte(yamlContent)); err != nil {
		return fmt.Errorf("write compose file: %w", err)
	}

	envPath := filepath.Join(dir, ".env")
	envContent, err := s.ComposeEnv()
	if err != nil {
		return err
	}
	if _, err := os.Stat(envPath); err == nil || strings.TrimSpace(envContent) != "" {
		if err := atomicWrite(envPath, []byte(envContent)); err != nil {
			return fmt.Errorf("write .env file: %w", err)
		}
	}

	return nil
}

// StatusConvert maps a `docker compose ls` Status field ("running(2)",
// "exited(1)", "created", "paused(1)", "dead" ...) to a status code.
func StatusConvert(status string) int {
	s := strings.ToLower(status)
	switch {
	case strings.HasPrefix(s, "running"):
		return composeconst.StatusRunning
	case strings.HasPrefix(s, "exited"), strings.HasPrefix(s, "dead"):
		return composeconst.StatusExited
	case strings.HasPrefix(s, "created"), strings.HasPrefix(s, "paused"):
		return composeconst.StatusCreatedStack
	default:
		return composeconst.StatusUnknown
	}
}

// SimpleJSON is the list-view serialization. The isManagedByDockge field
// name is carried over verbatim from the wire contract's own wording —
// it predates the composeforge name and is kept for client compatibility.
type SimpleJSON struct {
	Name              string   `json:"name"`
	Status            int      `json:"status"`
	Tags              []string `json:"tags"`
	IsManagedByDockge bool     `json:"isManagedByDockge"`
	ComposeFileName   string   `json:"composeFileName"`
	Endpoint          string   `json:"endpoint"`
}

// FullJSON is the detail-view serialization: SimpleJSON plus the raw
// compose file contents and a hostname the UI uses for port links.
type FullJSON struct {
	SimpleJSON
	ComposeYAML     string `json:"composeYAML"`
	ComposeENV      string `json:"composeENV"`
	PrimaryHostname string `json:"primaryHostname"`
}

// ServiceStatus is one service's entry in the ps-snapshot serialization.
type ServiceStatus struct {
	State string   `json:"state"`
	Ports []string `json:"ports"`
}

type composeListItem struct {
	Name        string `json:"Name"`
	Status      string `json:"Status"`
	ConfigFiles string `json:"ConfigFiles"`
}

type composePsItem struct {
	Service string `json:"Service"`
	State   string `json:"State"`
	Health  string `json:"Health"`
	Ports   string `json:"Ports"`
}

// ToSimpleJSON builds the list-view representation.
func (s *Stack) ToSimpleJSON() SimpleJSON {
	return SimpleJSON{
		Name:              s.Name,
		Status:            s.Status,
		Tags:              []string{},
		IsManagedByDockge: s.IsManaged(),
		ComposeFileName:   s.ComposeFileName,
		Endpoint:          s.Endpoint,
	}
}

// ToJSON builds the detail-view representation, reading the compose
// YAML/env from disk if not already cached.
func (s *Stack) ToJSON() (FullJSON, error) {
	yamlContent, err := s.ComposeYAML()
	if err != nil {
		return FullJSON{}, err
	}
	envContent, err := s.ComposeEnv()
	if err != nil {
		return FullJSON{}, err
	}
	return FullJSON{
		SimpleJSON:      s.ToSimpleJSON(),
		ComposeYAML:     yamlContent,
		ComposeENV:      envContent,
		PrimaryHostname: s.primaryHostname(),
	}, nil
}

func (s *Stack) primaryHostname() string {
	if s.Endpoint == "" {
		return "localhost"
	}
	if u, err := url.Parse("https://" + s.Endpoint); err == nil && u.Hostname() != "" {
		return u.Hostname()
	}
	return "localhost"
}
