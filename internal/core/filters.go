package core

import (
	"fmt"
	"strings"

	"qa-backend/internal/database"
)

type Filter interface {
	Matches(record *database.Record) bool
}

type AndFilter struct {
	filters []Filter
}

func (f *AndFilter) Matches(record *database.Record) bool {
	for _, filter := range f.filters {
		if !filter.Matches(record) {
			return false
		}
	}
	return true
}

type OrFilter struct {
	filters []Filter
}

func (f *OrFilter) Matches(record *database.Record) bool {
	for _, filter := range f.filters {
		if filter.Matches(record) {
			return true
		}
	}
	return false
}

type NotFilter struct {
	filter Filter
}

func (f *NotFilter) Matches(record *database.Record) bool {
	return !f.filter.Matches(record)
}

// ScoreFilter compares the record's suggestion confidence. Records without a
// suggestion never match.
type ScoreFilter struct {
	min float64
	max float64
}

func (f *ScoreFilter) Matches(record *database.Record) bool {
	if !record.SuggestionScore.Valid {
		return false
	}
	score := record.SuggestionScore.Float64
	return f.min < score && score < f.max
}

type SubstringFilter struct {
	field  string
	substr string
}

func (f *SubstringFilter) Matches(record *database.Record) bool {
	return strings.Contains(fieldValue(record, f.field), f.substr)
}

type StringEqFilter struct {
	field string
	value string
}

func (f *StringEqFilter) Matches(record *database.Record) bool {
	return fieldValue(record, f.field) == f.value
}

func validField(name string) error {
	switch name {
	case "question", "context", "answer", "suggestion", "status", "external_id":
		return nil
	default:
		return fmt.Errorf("unknown field '%s'", name)
	}
}

func fieldValue(record *database.Record, name string) string {
	switch name {
	case "question":
		return record.Question
	case "context":
		return record.Context
	case "answer":
		if record.AnswerText.Valid {
			return record.AnswerText.String
		}
		return ""
	case "suggestion":
		if record.SuggestionText.Valid {
			return record.SuggestionText.String
		}
		return ""
	case "status":
		return record.Status
	case "external_id":
		return record.ExternalId
	default:
		return ""
	}
}
