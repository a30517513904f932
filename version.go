package main

import (
	"fmt"
	"runtime"
	"runtime/debug"

	"github.com/spf13/cobra"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "version",
		Short:       "Print version and build information",
		Annotations: map[string]string{skipConfigAnnotation: "true"},
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Printf("shoebox %s (%s, %s/%s)\n", version, goVersion(), runtime.GOOS, runtime.GOARCH)
		},
	}
}

// goVersion returns the toolchain that built the binary, falling back to
// the runtime version when build info is unavailable.
func goVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.GoVersion != "" {
		return info.GoVersion
	}

	return runtime.Version()
}
