package client

import (
	"context"
	"fmt"
	"runtime"
	"strings"

	"github.com/shirou/gopsutil/v3/host"
)

// buildUserAgent returns "campfire-go/<version> (<os info>)". Host details come from
// gopsutil; if the platform cannot be probed the Go runtime's GOOS/GOARCH are used.
func buildUserAgent(ctx context.Context) string {
	return fmt.Sprintf("%s/%s (%s)", LibraryName, Version, osInfo(ctx))
}

func osInfo(ctx context.Context) string {
	info, err := host.InfoWithContext(ctx)
	if err != nil || info == nil || info.Platform == "" {
		return runtime.GOOS + "; " + runtime.GOARCH
	}

	platform := strings.TrimSpace(info.Platform + " " + info.PlatformVersion)
	arch := info.KernelArch
	if arch == "" {
		arch = runtime.GOARCH
	}
	return platform + "; " + arch
}
