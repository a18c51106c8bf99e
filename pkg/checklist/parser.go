// Package checklist derives an ordered checklist from a playbook's
// markdown body.
package checklist

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/opatlas/opatlas/pkg/types"
)

var (
	// headingPattern matches "# Title" through "###### Title".
	headingPattern = regexp.MustCompile(`^(#{1,6})\s+(.+)$`)

	// checkboxPattern matches unchecked task lines like "- [ ] Do thing".
	checkboxPattern = regexp.MustCompile(`^[\s-]*\[\s*\]\s+(.+)$`)

	// listPattern matches plain bulleted/numbered lines ("- x", "* x",
	// "1. x"), capturing the text with surrounding bold markup stripped
	// and any trailing parenthetical dropped.
	listPattern = regexp.MustCompile(`^[\s-]*(?:\d+\.|\*|-)\s+(?:\*\*)?(.+?)(?:\*\*)?(?:\s*\(|$)`)
)

// Parse scans markdown line by line and emits checklist items in document
// order. Headings become heading items; unchecked task lines and plain
// list lines become checkbox items; everything else is skipped.
//
// Item ids are positional: a single counter over all emitted items,
// prefixed "h-" for headings and "step-" for checkboxes. Ids are unique
// within one document but shift whenever a recognized line is inserted or
// removed above them, so they are only stable while the markdown is
// byte-identical. Checked state is derived by membership in checkedSteps.
func Parse(markdown string, checkedSteps []string) []types.ChecklistItem {
	checked := make(map[string]struct{}, len(checkedSteps))
	for _, id := range checkedSteps {
		checked[id] = struct{}{}
	}

	items := make([]types.ChecklistItem, 0)
	itemID := 0

	for _, line := range strings.Split(markdown, "\n") {
		if match := headingPattern.FindStringSubmatch(line); match != nil {
			items = append(items, types.ChecklistItem{
				ID:    fmt.Sprintf("h-%d", itemID),
				Text:  strings.TrimSpace(match[2]),
				Kind:  types.ChecklistHeading,
				Level: len(match[1]),
			})
			itemID++

			continue
		}

		if match := checkboxPattern.FindStringSubmatch(line); match != nil {
			id := fmt.Sprintf("step-%d", itemID)
			itemID++

			_, isChecked := checked[id]
			items = append(items, types.ChecklistItem{
				ID:      id,
				Text:    strings.TrimSpace(match[1]),
				Kind:    types.ChecklistCheckbox,
				Checked: isChecked,
			})

			continue
		}

		if match := listPattern.FindStringSubmatch(line); match != nil {
			id := fmt.Sprintf("step-%d", itemID)
			itemID++

			_, isChecked := checked[id]
			items = append(items, types.ChecklistItem{
				ID:      id,
				Text:    strings.TrimSpace(match[1]),
				Kind:    types.ChecklistCheckbox,
				Checked: isChecked,
			})
		}
	}

	return items
}
