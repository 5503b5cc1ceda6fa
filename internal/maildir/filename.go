package maildir

import (
	"os"
	"strings"
)

const fallbackHostname = "localhost"

// getHostname returns the local hostname for message filenames, falling back
// to "localhost" when it cannot be resolved.
func getHostname() string {
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		return fallbackHostname
	}
	return sanitizeHostname(hostname)
}

// sanitizeHostname replaces characters that would break a Maildir filename.
func sanitizeHostname(hostname string) string {
	hostname = strings.ReplaceAll(hostname, "/", "_")
	hostname = strings.ReplaceAll(hostname, ":", "_")
	return strings.ReplaceAll(hostname, "\x00", "")
}
