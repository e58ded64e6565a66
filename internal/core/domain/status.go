package domain

import (
	"regexp"
	"strings"
)

// Status classifies the output of the external checker tools.
type Status string

const (
	// StatusOK means the check passed cleanly.
	StatusOK Status = "ok"
	// StatusWarning means the check passed but produced warnings.
	StatusWarning Status = "warning"
	// StatusError means the check failed; the artifact must not be persisted.
	StatusError Status = "error"
)

// Worst returns the more severe of two statuses.
func Worst(a, b Status) Status {
	rank := map[Status]int{StatusOK: 0, StatusWarning: 1, StatusError: 2}
	if rank[b] > rank[a] {
		return b
	}
	return a
}

var errorKeywords = []string{"unknown", "unexpected", "permission", "failed"}

// lineLocRegex matches compiler-style error locators such as "db.example.com:12:".
var lineLocRegex = regexp.MustCompile(`:\d+:`)

// ClassifyCheckOutput maps raw named-checkzone/named-checkconf output to a
// Status. Empty output is an error: a missing or broken checker binary must
// never pass as success. For zone files the absence of the "loaded serial"
// success marker is an error even without an explicit error keyword.
func ClassifyCheckOutput(output string, zoneFile bool) Status {
	if strings.TrimSpace(output) == "" {
		return StatusError
	}
	lower := strings.ToLower(output)
	for _, kw := range errorKeywords {
		if strings.Contains(lower, kw) {
			return StatusError
		}
	}
	if lineLocRegex.MatchString(output) {
		return StatusError
	}
	if zoneFile && !strings.Contains(lower, "loaded serial") {
		return StatusError
	}
	if strings.Contains(lower, "warning:") {
		return StatusWarning
	}
	return StatusOK
}
