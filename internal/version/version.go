// Package version provides build version information.
package version

import (
	"fmt"
	"runtime"
)

const (
	// Version is the current version of sdb-dap
	Version = "0.2.0"

	// Name is the adapter name reported to clients
	Name = "sdb-dap"
)

// UserAgent is sent with every HTTP request to the debugger
func UserAgent() string {
	return Name + "/" + Version
}

// String returns the line printed by --version
func String() string {
	return fmt.Sprintf("%s version %s (%s/%s, %s)", Name, Version, runtime.GOOS, runtime.GOARCH, runtime.Version())
}
