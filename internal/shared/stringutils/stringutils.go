package stringutils

// Truncate shortens a string to at most n runes, adding "..." if it was truncated.
func Truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

// Mask hides all but the last four characters of a secret.
func Mask(secret string) string {
	if len(secret) <= 4 {
		return "****"
	}
	return "****" + secret[len(secret)-4:]
}
