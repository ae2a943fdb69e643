package handler

import (
	"context"
	"time"

	"github.com/shirou/gopsutil/v4/host"
)

// isRunningInContainer reports whether the current process is running
// inside a container, for the info event's isContainer field. Backed by
// gopsutil's host virtualization detection (cgroup / systemd-detect-virt
// probing under the hood) rather than a hand-rolled /proc/1/cgroup read.
func isRunningInContainer() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	info, err := host.InfoWithContext(ctx)
	if err != nil {
		return false
	}
	switch info.VirtualizationSystem {
	case "docker", "podman", "lxc", "containerd", "kubepods":
		return info.VirtualizationRole == "guest" || info.VirtualizationRole == ""
	default:
		return info.VirtualizationRole == "guest" && info.VirtualizationSystem != ""
	}
}
