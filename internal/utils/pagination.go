// Package utils provides small, layer-independent helpers shared across the
// application, mainly query-parameter parsing for paginated endpoints.
package utils

import "strconv"

// AtoiDefault converts a string to an int using strconv.Atoi, returning the
// provided default when the string is empty or not a valid integer. The
// contacts listing uses it to fall back on the documented skip/limit
// defaults without surfacing parse errors to clients.
//
// Example:
//
//	skip := utils.AtoiDefault(c.Query("skip"), 0)
//	limit := utils.AtoiDefault(c.Query("limit"), 100)
func AtoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return def
}
