package tasks

import (
	_ "embed"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// FallbackPermissionID (ACTIVE_ISSUES_VIEW) is granted when none of a role's permissions translate.
const FallbackPermissionID int64 = 1701

//go:embed rolePermissionIds.csv
var rolePermissionCSV string

// PermissionTable maps normalized permission names to destination permission ids.
type PermissionTable map[string]int64

// DefaultPermissions loads the embedded permission table.
func DefaultPermissions() (PermissionTable, error) {
	return LoadPermissions(strings.NewReader(rolePermissionCSV))
}

// LoadPermissions reads "name,id" rows. A header row and blank names are ignored.
func LoadPermissions(r io.Reader) (PermissionTable, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	table := PermissionTable{}
	for line := 1; ; line++ {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read permission table line %d: %w", line, err)
		}
		if len(row) < 2 || strings.TrimSpace(row[0]) == "" {
			continue
		}
		id, err := strconv.ParseInt(strings.TrimSpace(row[1]), 10, 64)
		if err != nil {
			if line == 1 {
				continue
			}
			return nil, fmt.Errorf("invalid permission id %q on line %d", row[1], line)
		}
		table[permissionKey(row[0])] = id
	}
	return table, nil
}

// IDs translates names, dropping unknown names and duplicates. Falls back to [FallbackPermissionID]
// when nothing translates.
func (t PermissionTable) IDs(names []string) []int64 {
	seen := map[int64]bool{}
	var ids []int64
	for _, name := range names {
		if id, ok := t[permissionKey(name)]; ok && !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return []int64{FallbackPermissionID}
	}
	return ids
}

// permissionKey folds "Active Issues - View" and "active_issues_view" to the same key.
func permissionKey(name string) string {
	fields := strings.FieldsFunc(strings.ToUpper(name), func(r rune) bool {
		return !(r >= 'A' && r <= 'Z' || r >= '0' && r <= '9')
	})
	return strings.Join(fields, "_")
}
