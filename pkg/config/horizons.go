package config

import (
	"fmt"
	"strconv"
	"strings"
)

// parseHorizons parses a comma-separated horizon list ("1,5,10")
func parseHorizons(s string) ([]int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	horizons := make([]int, 0, len(parts))
	for _, part := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return nil, fmt.Errorf("horizon %q is not an integer", part)
		}
		if v < 0 {
			return nil, fmt.Errorf("horizon %d is negative", v)
		}
		horizons = append(horizons, v)
	}
	return horizons, nil
}

// formatHorizons renders a horizon list for storage
func formatHorizons(horizons []int) string {
	parts := make([]string, len(horizons))
	for i, h := range horizons {
		parts[i] = strconv.Itoa(h)
	}
	return strings.Join(parts, ",")
}
