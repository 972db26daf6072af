package model

import (
	"time"
)

// RowString extracts a string column from a Cypher result row, tolerating nil.
func RowString(row map[string]interface{}, key string) string {
	v, _ := row[key].(string)
	return v
}

// RowStrings extracts a string-list column from a Cypher result row.
func RowStrings(row map[string]interface{}, key string) []string {
	raw, ok := row[key].([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// RowInt extracts an integer column, accepting the int64/float64 values the
// driver produces depending on the server's number typing.
func RowInt(row map[string]interface{}, key string) int {
	switch v := row[key].(type) {
	case int64:
		return int(v)
	case float64:
		return int(v)
	case int:
		return v
	}
	return 0
}

// RowFloat extracts a float column.
func RowFloat(row map[string]interface{}, key string) float64 {
	switch v := row[key].(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	}
	return 0
}

// RowTime parses an ISO-8601 timestamp column. Returns the zero time when the
// column is absent or malformed.
func RowTime(row map[string]interface{}, key string) time.Time {
	s, ok := row[key].(string)
	if !ok || s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// RowTimePtr is RowTime for nullable columns.
func RowTimePtr(row map[string]interface{}, key string) *time.Time {
	t := RowTime(row, key)
	if t.IsZero() {
		return nil
	}
	return &t
}

// MemoryFromRow builds a Memory from a row whose columns follow the
// m.<property> AS <property> convention used throughout the service layer.
func MemoryFromRow(row map[string]interface{}) Memory {
	m := Memory{
		ID:                 RowString(row, "id"),
		Content:            RowString(row, "content"),
		State:              MemoryState(RowString(row, "state")),
		Metadata:           RowString(row, "metadata"),
		Tags:               RowStrings(row, "tags"),
		ValidAt:            RowTime(row, "validAt"),
		InvalidAt:          RowTimePtr(row, "invalidAt"),
		CreatedAt:          RowTime(row, "createdAt"),
		UpdatedAt:          RowTime(row, "updatedAt"),
		ArchivedAt:         RowTimePtr(row, "archivedAt"),
		DeletedAt:          RowTimePtr(row, "deletedAt"),
		ExtractionStatus:   ExtractionStatus(RowString(row, "extractionStatus")),
		ExtractionAttempts: RowInt(row, "extractionAttempts"),
	}
	if m.Metadata == "" {
		m.Metadata = "{}"
	}
	if m.Tags == nil {
		m.Tags = []string{}
	}
	return m
}
