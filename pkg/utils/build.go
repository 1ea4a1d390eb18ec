// Build information of dlist binaries. The values are set through -ldflags at build time, e.g.
//   go build -ldflags "-X github.com/nobletooth/dlist/pkg/utils.Version=v0.1.0" ./cmd/dlistd
// CAUTION: Keep the variable names in sync with the build scripts or the values won't be set.

package utils

import (
	"log/slog"
	"strconv"
	"time"
)

// devVersion is reported by binaries built without version information.
const devVersion = "v0.0.0-dev"

var (
	TestMode   string // Should be "true" for test builds; makes invariant violations panic.
	IsTestMode bool
	Version    string
	Commit     string
	BuildTime  string
	StartTime  time.Time
)

func init() {
	StartTime = time.Now()

	if Version == "" {
		Version = devVersion
	}
	if Commit == "" {
		Commit = "unknown"
	}
	if BuildTime == "" {
		BuildTime = "unknown"
	}
	if len(TestMode) > 0 {
		if isTestMode, err := strconv.ParseBool(TestMode); err == nil {
			IsTestMode = isTestMode
		} else {
			slog.Warn("Failed to parse TestMode build flag, defaulting to false.", "error", err)
		}
	}
}

// Uptime returns how long the process has been running.
func Uptime() time.Duration {
	return time.Since(StartTime)
}
