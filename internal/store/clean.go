package store

import (
	"regexp"
	"strings"
)

var (
	nonAlnum  = regexp.MustCompile(`[^a-z0-9]+`)
	dashRuns  = regexp.MustCompile(`-+`)
)

// CleanName deterministically normalizes an officially supplied model
// name into the last path segment of its directory (§4.2): lowercase,
// non-alphanumerics become '-', runs collapse, and leading/trailing
// dashes are trimmed.
func CleanName(name string) string {
	lower := strings.ToLower(name)
	replaced := nonAlnum.ReplaceAllString(lower, "-")
	collapsed := dashRuns.ReplaceAllString(replaced, "-")
	return strings.Trim(collapsed, "-")
}
