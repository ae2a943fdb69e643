package terminal

import "testing"

func TestComposeName(t *testing.T) {
	got := ComposeName("", "web")
	want := "compose--web"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestCombinedName(t *testing.T) {
	got := CombinedName("node-2:5001", "web")
	want := "combined-node-2:5001-web"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestContainerExecName(t *testing.T) {
	got := ContainerExecName("", "mystack", "web", 0)
	want := "container-exec--mystack-web-0"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}

	got = ContainerExecName("remote", "stack1", "web", 5)
	want = "container-exec-remote-stack1-web-5"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}
