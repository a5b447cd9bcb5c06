// Package version exposes build-time version information.
package version

// Version is the semantic version of the agent, overridable at build time:
//
//	go build -ldflags "-X github.com/tether-ai/tether-agent/pkg/version.Version=..."
var Version = "dev"

// Protocol is the control-surface protocol revision reported by /api/health.
// Bumped when the HTTP or SSE contract changes incompatibly.
const Protocol = 1
