package pgn

import (
	"strconv"
	"strings"
)

// HeaderString returns the value of key, trimmed, or "" if absent or the
// PGN placeholder "?".
func HeaderString(headers map[string]string, key string) string {
	v := strings.TrimSpace(headers[key])
	if v == "?" {
		return ""
	}
	return v
}

// HeaderInt parses a numeric tag (WhiteElo, BlackElo) tolerating the "?"
// placeholder PGN exporters use for unknown values.
func HeaderInt(headers map[string]string, key string) (int, bool) {
	v := HeaderString(headers, key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}
