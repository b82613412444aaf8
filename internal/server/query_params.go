package server

import (
	"errors"
	"strconv"
	"strings"
)

// parseOptionalLimit returns 0 for an absent limit; the aggregator applies
// its default and cap.
func parseOptionalLimit(value string) (int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return 0, nil
	}
	parsed, err := strconv.Atoi(trimmed)
	if err != nil || parsed <= 0 {
		return 0, errors.New("invalid_limit")
	}
	return parsed, nil
}
