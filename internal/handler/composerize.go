package handler

import (
	"context"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/composeforge/composeforge/internal/session"
	"github.com/composeforge/composeforge/internal/wire"
)

// composeService is the subset of compose v2 service fields composerize
// can derive from a single `docker run` invocation.
type composeService struct {
	Image         string            `yaml:"image"`
	ContainerName string            `yaml:"container_name,omitempty"`
	Command       []string          `yaml:"command,omitempty"`
	Environment   map[string]string `yaml:"environment,omitempty"`
	Ports         []string          `yaml:"ports,omitempty"`
	Volumes       []string          `yaml:"volumes,omitempty"`
	Restart       string            `yaml:"restart,omitempty"`
	Networks      []string          `yaml:"networks,omitempty"`
	Labels        map[string]string `yaml:"labels,omitempty"`
	Privileged    bool              `yaml:"privileged,omitempty"`
	CapAdd        []string          `yaml:"cap_add,omitempty"`
}

type composeDocument struct {
	Services map[string]composeService `yaml:"services"`
}

// Composerize converts a single `docker run ...` command into an
// equivalent compose YAML document. original_source's handle_composerize
// leaves this as a TODO ("Implement composerize" — Phase 7, never
// finished); composeforge supplements it with a direct Go port of the
// common flag subset, rather than shelling out to Node's composerize.
func (h *Handlers) Composerize(ctx context.Context, sess *session.Session, msg wire.ClientMessage, c *wire.Conn) {
	cmd := argString(msg.Args, 0)
	tokens, err := splitShellWords(cmd)
	if err != nil {
		_ = c.Reply(msg.AckID, wire.Fail(err.Error()))
		return
	}

	svc, name, err := composerizeTokens(tokens)
	if err != nil {
		_ = c.Reply(msg.AckID, wire.Fail(err.Error()))
		return
	}

	doc := composeDocument{Services: map[string]composeService{name: svc}}
	out, err := yaml.Marshal(doc)
	if err != nil {
		_ = c.Reply(msg.AckID, wire.Fail(err.Error()))
		return
	}

	_ = c.Reply(msg.AckID, replyOK(map[string]any{"composeYAML": string(out)}))
}

// composerizeTokens walks a tokenized `docker run` invocation, translating
// the flag subset real-world compose files actually use. Unknown flags are
// skipped rather than rejected, since docker run accepts far more than
// composerize needs to reproduce.
func composerizeTokens(tokens []string) (composeService, string, error) {
	if len(tokens) < 2 || tokens[0] != "docker" || tokens[1] != "run" {
		return composeService{}, "", fmt.Errorf("expected a \"docker run ...\" command")
	}

	svc := composeService{Environment: map[string]string{}, Labels: map[string]string{}}
	name := ""

	i := 2
	for i < len(tokens) {
		tok := tokens[i]
		switch {
		case tok == "-d" || tok == "--detach" || tok == "-it" || tok == "-i" || tok == "-t" || tok == "--rm":
			i++
		case tok == "--privileged":
			svc.Privileged = true
			i++
		case tok == "--name":
			name = tokens[i+1]
			svc.ContainerName = name
			i += 2
		case tok == "-p" || tok == "--publish":
			svc.Ports = append(svc.Ports, tokens[i+1])
			i += 2
		case tok == "-v" || tok == "--volume":
			svc.Volumes = append(svc.Volumes, tokens[i+1])
			i += 2
		case tok == "-e" || tok == "--env":
			k, v, _ := strings.Cut(tokens[i+1], "=")
			svc.Environment[k] = v
			i += 2
		case tok == "--restart":
			svc.Restart = tokens[i+1]
			i += 2
		case tok == "--network" || tok == "--net":
			svc.Networks = append(svc.Networks, tokens[i+1])
			i += 2
		case tok == "--cap-add":
			svc.CapAdd = append(svc.CapAdd, tokens[i+1])
			i += 2
		case tok == "-l" || tok == "--label":
			k, v, _ := strings.Cut(tokens[i+1], "=")
			svc.Labels[k] = v
			i += 2
		case strings.HasPrefix(tok, "-"):
			// Unknown flag: skip the flag token only. A value passed as a
			// separate token is not skipped and is read as the image.
			i++
		default:
			svc.Image = tok
			i++
			svc.Command = tokens[i:]
			i = len(tokens)
		}
	}

	if svc.Image == "" {
		return composeService{}, "", fmt.Errorf("could not find an image in command")
	}
	if len(svc.Environment) == 0 {
		svc.Environment = nil
	}
	if len(svc.Labels) == 0 {
		svc.Labels = nil
	}
	if name == "" {
		name = serviceNameFromImage(svc.Image)
	}
	return svc, name, nil
}

// serviceNameFromImage derives a compose service key from an image
// reference, e.g. "nginx:1.27" -> "nginx", "ghcr.io/foo/bar:latest" ->
// "bar".
func serviceNameFromImage(image string) string {
	ref := image
	if idx := strings.LastIndex(ref, "/"); idx != -1 {
		ref = ref[idx+1:]
	}
	if idx := strings.Index(ref, "@"); idx != -1 {
		ref = ref[:idx]
	}
	if idx := strings.Index(ref, ":"); idx != -1 {
		ref = ref[:idx]
	}
	return ref
}

// splitShellWords tokenizes a command line honoring single and double
// quotes, without a shell's full expansion semantics (env vars, globs,
// subshells) since composerize only needs argv splitting. No shell-word
// splitting library appears anywhere in the retrieval pack, so this is
// hand-rolled rather than imported.
func splitShellWords(s string) ([]string, error) {
	var tokens []string
	var cur strings.Builder
	inWord := false
	var quote rune

	flush := func() {
		if inWord {
			tokens = append(tokens, cur.String())
			cur.Reset()
			inWord = false
		}
	}

	runes := []rune(s)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			} else {
				cur.WriteRune(r)
			}
		case r == '\'' || r == '"':
			quote = r
			inWord = true
		case r == ' ' || r == '\t' || r == '\n':
			flush()
		case r == '\\' && i+1 < len(runes):
			i++
			cur.WriteRune(runes[i])
			inWord = true
		default:
			cur.WriteRune(r)
			inWord = true
		}
	}
	if quote != 0 {
		return nil, fmt.Errorf("unterminated quote in command")
	}
	flush()
	return tokens, nil
}
