package handler

import (
	"strings"
	"testing"

	"github.com/composeforge/composeforge/internal/router"
)

func TestSplitShellWordsHonorsQuoting(t *testing.T) {
	tokens, err := splitShellWords(`docker run -e MSG="hello world" --name my-app nginx:1.27`)
	if err != nil {
		t.Fatalf("splitShellWords: %v", err)
	}
	want := []string{"docker", "run", "-e", "MSG=hello world", "--name", "my-app", "nginx:1.27"}
	if len(tokens) != len(want) {
		t.Fatalf("expected %d tokens, got %d: %v", len(want), len(tokens), tokens)
	}
	for i := range want {
		if tokens[i] != want[i] {
			t.Errorf("token %d = %q, want %q", i, tokens[i], want[i])
		}
	}
}

func TestSplitShellWordsRejectsUnterminatedQuote(t *testing.T) {
	if _, err := splitShellWords(`docker run "unterminated`); err == nil {
		t.Fatalf("expected an error for an unterminated quote")
	}
}

func TestComposerizeTokensRejectsNonDockerRun(t *testing.T) {
	if _, _, err := composerizeTokens([]string{"echo", "hello"}); err == nil {
		t.Fatalf("expected an error for a non docker-run command")
	}
}

func TestComposerizeTokensDerivesServiceFromFlags(t *testing.T) {
	tokens := []string{
		"docker", "run", "-d", "--name", "web",
		"-p", "8080:80", "-v", "/data:/data",
		"-e", "FOO=bar", "--restart", "always", "nginx:1.27",
	}
	svc, name, err := composerizeTokens(tokens)
	if err != nil {
		t.Fatalf("composerizeTokens: %v", err)
	}
	if name != "web" {
		t.Errorf("expected service name %q, got %q", "web", name)
	}
	if svc.Image != "nginx:1.27" {
		t.Errorf("expected image nginx:1.27, got %q", svc.Image)
	}
	if len(svc.Ports) != 1 || svc.Ports[0] != "8080:80" {
		t.Errorf("expected one port mapping 8080:80, got %v", svc.Ports)
	}
	if len(svc.Volumes) != 1 || svc.Volumes[0] != "/data:/data" {
		t.Errorf("expected one volume /data:/data, got %v", svc.Volumes)
	}
	if svc.Environment["FOO"] != "bar" {
		t.Errorf("expected FOO=bar in environment, got %v", svc.Environment)
	}
	if svc.Restart != "always" {
		t.Errorf("expected restart=always, got %q", svc.Restart)
	}
}

func TestComposerizeTokensDerivesNameFromImageWhenUnnamed(t *testing.T) {
	_, name, err := composerizeTokens([]string{"docker", "run", "ghcr.io/foo/bar:latest"})
	if err != nil {
		t.Fatalf("composerizeTokens: %v", err)
	}
	if name != "bar" {
		t.Errorf("expected derived name %q, got %q", "bar", name)
	}
}

func TestServiceNameFromImage(t *testing.T) {
	cases := map[string]string{
		"nginx:1.27":                  "nginx",
		"ghcr.io/foo/bar:latest":      "bar",
		"redis@sha256:abcdef":         "redis",
		"myrepo.example.com/baz:v1.0": "baz",
	}
	for image, want := range cases {
		if got := serviceNameFromImage(image); got != want {
			t.Errorf("serviceNameFromImage(%q) = %q, want %q", image, got, want)
		}
	}
}

func TestComposerizeHandlerProducesYAML(t *testing.T) {
	h := testHandlers(t)
	_, client := dialHandler(t, h, dispatchStandalone(h, map[string]router.Handler{"composerize": h.Composerize}))

	reply := sendAndAwaitReply(t, client, "composerize", 1, rawJSON(t, "docker run --name cache -p 6379:6379 redis:7"))
	if !strings.Contains(string(reply.Payload), `"ok":true`) {
		t.Fatalf("expected composerize to succeed, got %s", reply.Payload)
	}
	if !strings.Contains(string(reply.Payload), "redis:7") || !strings.Contains(string(reply.Payload), "cache") {
		t.Fatalf("expected the compose YAML to mention the image and service name, got %s", reply.Payload)
	}
}

func TestComposerizeHandlerRejectsNonDockerCommand(t *testing.T) {
	h := testHandlers(t)
	_, client := dialHandler(t, h, dispatchStandalone(h, map[string]router.Handler{"composerize": h.Composerize}))

	reply := sendAndAwaitReply(t, client, "composerize", 1, rawJSON(t, "echo hello"))
	if !strings.Contains(string(reply.Payload), `"ok":false`) {
		t.Fatalf("expected composerize to reject a non docker-run command, got %s", reply.Payload)
	}
}
