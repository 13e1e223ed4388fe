// ABOUTME: Deterministic decomposition of raw client text into ordered subtasks.
// ABOUTME: Splits on "and then" (case-insensitive) and on comma/semicolon.

package orchestrator

import (
	"regexp"
	"strings"
)

// subtaskSeparator matches the connective phrase "and then" as whole words,
// or a comma or semicolon. Matching the phrase and the punctuation in one
// pattern means "search flights, and then book one" collapses cleanly to
// two fragments instead of leaving a dangling "and then".
var subtaskSeparator = regexp.MustCompile(`(?i)\band\s+then\b|[,;]`)

// Decompose splits raw text into an ordered list of subtask strings.
// Fragments are whitespace-trimmed and empty fragments dropped.
func Decompose(raw string) []string {
	parts := subtaskSeparator.Split(raw, -1)
	tasks := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			tasks = append(tasks, trimmed)
		}
	}
	return tasks
}
