// Package cli provides shared helpers for veilnote commands.
package cli

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/veilnote/veilnote/pkg/vault"
)

// MatchLabel reports whether a label matches a pattern. Patterns containing
// glob characters (*?[) use filepath.Match semantics; anything else is an
// exact, case-insensitive comparison.
func MatchLabel(pattern, label string) (bool, error) {
	if _, err := filepath.Match(pattern, ""); err != nil {
		return false, fmt.Errorf("invalid pattern %q: %w", pattern, err)
	}

	if !strings.ContainsAny(pattern, "*?[") {
		return strings.EqualFold(pattern, label), nil
	}
	return filepath.Match(strings.ToLower(pattern), strings.ToLower(label))
}

// FilterByLabels returns the notes carrying at least one label matched by at
// least one pattern. An empty pattern list passes everything through.
func FilterByLabels(notes []*vault.Note, patterns []string) ([]*vault.Note, error) {
	if len(patterns) == 0 {
		return notes, nil
	}

	var filtered []*vault.Note
	for _, note := range notes {
		matched, err := anyLabelMatches(note.Payload.Labels, patterns)
		if err != nil {
			return nil, err
		}
		if matched {
			filtered = append(filtered, note)
		}
	}
	return filtered, nil
}

func anyLabelMatches(labels, patterns []string) (bool, error) {
	for _, pattern := range patterns {
		for _, label := range labels {
			ok, err := MatchLabel(pattern, label)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
	}
	return false, nil
}

// CollectLabels returns the distinct labels across notes, sorted.
func CollectLabels(notes []*vault.Note) []string {
	seen := make(map[string]bool)
	var labels []string
	for _, note := range notes {
		for _, label := range note.Payload.Labels {
			if !seen[label] {
				seen[label] = true
				labels = append(labels, label)
			}
		}
	}
	sort.Strings(labels)
	return labels
}
