package milvus

import (
	"strconv"
	"strings"
)

// Eq builds `field == "value"`.
func Eq(field, value string) string {
	return field + " == " + strconv.Quote(value)
}

// Ne builds `field != "value"`.
func Ne(field, value string) string {
	return field + " != " + strconv.Quote(value)
}

// In builds `field in ["a", "b"]`; an empty set yields "".
func In(field string, values []string) string {
	if len(values) == 0 {
		return ""
	}
	quoted := make([]string, len(values))
	for i, v := range values {
		quoted[i] = strconv.Quote(v)
	}
	return field + " in [" + strings.Join(quoted, ", ") + "]"
}

// And joins the non-empty clauses.
func And(clauses ...string) string {
	parts := make([]string, 0, len(clauses))
	for _, c := range clauses {
		if c != "" {
			parts = append(parts, "("+c+")")
		}
	}
	return strings.Join(parts, " and ")
}
