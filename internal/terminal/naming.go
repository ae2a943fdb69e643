package terminal

import "fmt"

// ComposeName returns the registry key for a stack's compose-verb terminal:
// "compose-{endpoint}-{stack}".
func ComposeName(endpoint, stack string) string {
	return fmt.Sprintf("compose-%s-%s", endpoint, stack)
}

// CombinedName returns the registry key for a stack's log-tail terminal:
// "combined-{endpoint}-{stack}".
func CombinedName(endpoint, stack string) string {
	return fmt.Sprintf("combined-%s-%s", endpoint, stack)
}

// ContainerExecName returns the registry key for an interactive
// container-exec terminal: "container-exec-{endpoint}-{stack}-{service}-{index}".
func ContainerExecName(endpoint, stack, service string, index int) string {
	return fmt.Sprintf("container-exec-%s-%s-%s-%d", endpoint, stack, service, index)
}

// ConsoleName is the literal registry key for the global operator shell.
const ConsoleName = "console"
