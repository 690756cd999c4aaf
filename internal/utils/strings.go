// Package utils holds small helpers shared by config parsing and services.
package utils

import "strings"

// ParseCSV splits a comma-separated string into trimmed, non-empty values.
// Returns nil when nothing is left.
func ParseCSV(s string) []string {
	var result []string
	for _, v := range strings.Split(s, ",") {
		if v = strings.TrimSpace(v); v != "" {
			result = append(result, v)
		}
	}
	return result
}
