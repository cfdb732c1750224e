package ui

import (
	"github.com/charmbracelet/bubbles/list"
)

var (
	_ list.Item = issueItem{}
)

// issueItem is one warning or error from a finished run.
type issueItem struct {
	text  string
	fatal bool
}

func (i issueItem) FilterValue() string { return i.text }
func (i issueItem) Title() string       { return i.text }
func (i issueItem) Description() string {
	if i.fatal {
		return "error"
	}
	return "warning"
}

func issueItems(result []string, fatal bool) []list.Item {
	items := make([]list.Item, len(result))
	for i, text := range result {
		items[i] = issueItem{text: text, fatal: fatal}
	}
	return items
}
