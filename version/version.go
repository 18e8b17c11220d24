package version

import "fmt"

// Build information, overridden at link time via -ldflags
var (
	Version   = "dev"
	BuildDate = "unknown"
)

// Print - the one-line version banner
func Print(program string) string {
	return fmt.Sprintf("%s, version %s (built %s)", program, Version, BuildDate)
}
