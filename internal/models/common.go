package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// ID is a numeric N-central identifier that may arrive as a JSON number or a numeric string.
type ID int64

// UnmarshalJSON accepts 42, "42" and null (as zero).
func (id *ID) UnmarshalJSON(data []byte) error {
	v, ok, err := parseFlexInt(data)
	if err != nil {
		return err
	}
	if ok {
		*id = ID(v)
	}
	return nil
}

// Int64 returns the identifier as an int64.
func (id ID) Int64() int64 { return int64(id) }

// String implements [fmt.Stringer].
func (id ID) String() string { return strconv.FormatInt(int64(id), 10) }

// NullID is an optional identifier. Null, absent and empty-string values are invalid.
type NullID struct {
	Int64 int64
	Valid bool
}

// SomeID builds a valid [NullID].
func SomeID(v int64) NullID { return NullID{Int64: v, Valid: true} }

// UnmarshalJSON accepts numbers, numeric strings, "" and null.
func (n *NullID) UnmarshalJSON(data []byte) error {
	v, ok, err := parseFlexInt(data)
	if err != nil {
		return err
	}
	n.Int64, n.Valid = v, ok
	return nil
}

// MarshalJSON writes null for invalid values.
func (n NullID) MarshalJSON() ([]byte, error) {
	if !n.Valid {
		return []byte("null"), nil
	}
	return []byte(strconv.FormatInt(n.Int64, 10)), nil
}

// String renders the value or an empty string.
func (n NullID) String() string {
	if !n.Valid {
		return ""
	}
	return strconv.FormatInt(n.Int64, 10)
}

// IDList is a list of identifiers that tolerates mixed number/string elements and
// comma or semicolon joined strings.
type IDList []int64

// UnmarshalJSON implements [json.Unmarshaler].
func (l *IDList) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*l = nil
		return nil
	}

	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		out := IDList{}
		for _, part := range strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ';' }) {
			v, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
			if err != nil {
				return fmt.Errorf("invalid id %q in list: %w", part, err)
			}
			out = append(out, v)
		}
		*l = out
		return nil
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(IDList, 0, len(raw))
	for _, r := range raw {
		v, ok, err := parseFlexInt(r)
		if err != nil {
			return err
		}
		if ok {
			out = append(out, v)
		}
	}
	*l = out
	return nil
}

// Join renders the list with sep between elements.
func (l IDList) Join(sep string) string {
	parts := make([]string, len(l))
	for i, v := range l {
		parts[i] = strconv.FormatInt(v, 10)
	}
	return strings.Join(parts, sep)
}

func parseFlexInt(data []byte) (int64, bool, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return 0, false, nil
	}

	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return 0, false, err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			return 0, false, nil
		}
		v, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return 0, false, fmt.Errorf("invalid numeric id %q: %w", s, err)
		}
		return v, true, nil
	}

	var num json.Number
	if err := json.Unmarshal(data, &num); err != nil {
		return 0, false, fmt.Errorf("expected number or string id, got %s", string(data))
	}
	v, err := num.Int64()
	if err != nil {
		return 0, false, fmt.Errorf("invalid numeric id %s: %w", num, err)
	}
	return v, true, nil
}

// firstValid returns the first valid alias in priority order.
func firstValid(candidates ...NullID) (int64, bool) {
	for _, c := range candidates {
		if c.Valid {
			return c.Int64, true
		}
	}
	return 0, false
}

// Page is the envelope returned by every list endpoint.
type Page[T any] struct {
	Data       []T `json:"data"`
	PageNumber int `json:"pageNumber"`
	PageSize   int `json:"pageSize"`
	TotalPages int `json:"totalPages"`
	TotalItems int `json:"totalItems"`
}

// PageQuery is encoded into list request query strings.
type PageQuery struct {
	PageNumber int    `url:"pageNumber,omitempty"`
	PageSize   int    `url:"pageSize,omitempty"`
	SortBy     string `url:"sortBy,omitempty"`
	SortOrder  string `url:"sortOrder,omitempty"`
}

// ServerInfo is returned by /api/server-info. Field presence varies across server releases.
type ServerInfo struct {
	Version         string `json:"version,omitempty"`
	APIVersion      string `json:"apiVersion,omitempty"`
	Build           string `json:"build,omitempty"`
	ProductName     string `json:"productName,omitempty"`
	ProductVersion  string `json:"productVersion,omitempty"`
	NcentralVersion string `json:"ncentralVersion,omitempty"`
	Ncentral        string `json:"ncentral,omitempty"`
}

// DisplayVersion picks the most specific version string the server reported.
func (s ServerInfo) DisplayVersion() string {
	for _, v := range []string{s.Ncentral, s.ProductVersion, s.NcentralVersion, s.Version, s.Build, s.APIVersion} {
		if v != "" {
			return v
		}
	}
	return ""
}

// boolString renders optional booleans for CSV output.
func boolString(b *bool) string {
	if b == nil {
		return ""
	}
	return strconv.FormatBool(*b)
}
