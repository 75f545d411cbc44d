package cmdutils

import "fmt"

const Logo = "🐧"

// Success prints a checked status line.
func Success(format string, args ...any) {
	fmt.Printf("✓ "+format+"\n", args...)
}
