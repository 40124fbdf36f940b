package httpx

import "strings"

// ParseSpaceDelimitedFields splits a space delimited parameter such
// as scope into its fields. Empty input yields nil.
func ParseSpaceDelimitedFields(s string) []string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return nil
	}
	return fields
}
