package models

import (
	"time"
)

// Model is a row in the run history database.
type Model interface {
	ID() string
	CreatedAt() time.Time
	UpdatedAt() time.Time
	Validate() error
}

// Repository is the CRUD surface each history table exposes. Delete is a soft delete; List takes
// table-specific criteria such as "kind", "status" and "limit".
type Repository[T Model] interface {
	Create(model T) error
	Get(id string) (T, error)
	Update(model T) error
	Delete(id string) error
	List(criteria map[string]any) ([]T, error)
}

// Record is anything the file writers can render as a CSV row.
type Record interface {
	CSVHeader() []string
	CSVRow() []string
}

// Records converts a typed slice into a slice of [Record].
func Records[T Record](items []T) []Record {
	out := make([]Record, len(items))
	for i, item := range items {
		out[i] = item
	}
	return out
}
