package api

import (
	"time"

	"github.com/google/uuid"
)

// Answer is a span located inside a record's context. Start and End are byte
// offsets into the context, so Text == context[Start:End].
type Answer struct {
	Text  string  `json:"text"`
	Score float64 `json:"score"`
	Start int     `json:"start"`
	End   int     `json:"end"`
}

type AnnotationSpan struct {
	Text  string `json:"text"`
	Start int    `json:"start"`
	End   int    `json:"end"`
}

// RecordSeed is the upload form of a record. Suggestion is optional: callers
// that precomputed a model answer can attach it, otherwise suggestions are
// filled in by a suggestion task later.
type RecordSeed struct {
	ExternalId string  `json:"external_id,omitempty"`
	Question   string  `json:"question"`
	Context    string  `json:"context"`
	Suggestion *Answer `json:"suggestion,omitempty"`
}

type Record struct {
	Id         uuid.UUID       `json:"id"`
	DatasetId  uuid.UUID       `json:"dataset_id"`
	ExternalId string          `json:"external_id,omitempty"`
	Question   string          `json:"question"`
	Context    string          `json:"context"`
	Status     string          `json:"status"`
	Suggestion *Answer         `json:"suggestion,omitempty"`
	Annotation *AnnotationSpan `json:"annotation,omitempty"`
}

type Dataset struct {
	Id           uuid.UUID `json:"id"`
	Name         string    `json:"name"`
	CreationTime time.Time `json:"creation_time"`

	TotalRecords     int64 `json:"total_records"`
	SubmittedRecords int64 `json:"submitted_records"`
}

type CreateDatasetRequest struct {
	Name string `json:"name"`
}

type CreateDatasetResponse struct {
	DatasetId uuid.UUID `json:"dataset_id"`
}

type UploadRecordsRequest struct {
	Records []RecordSeed `json:"records"`
}

type UploadRecordsResponse struct {
	RecordCount int `json:"record_count"`
}

type ListRecordsQuery struct {
	Status string `schema:"status"`
	Offset int    `schema:"offset"`
	Limit  int    `schema:"limit"`
}

type ListRecordsResponse struct {
	Records []Record `json:"records"`
	Total   int64    `json:"total"`
}

// AnnotateRequest submits a human annotation for a record. If FromSuggestion
// is set the record's stored suggestion is promoted to the annotation and the
// span fields are ignored. If Text is empty it is derived from the span.
type AnnotateRequest struct {
	FromSuggestion bool   `json:"from_suggestion,omitempty"`
	Text           string `json:"text,omitempty"`
	Start          int    `json:"start"`
	End            int    `json:"end"`
}

type SearchRequest struct {
	Query string `json:"query"`
}

type SearchResponse struct {
	Records []Record `json:"records"`
}

// SuggestRequest queues suggestion generation for every pending record in a
// dataset that does not have a suggestion yet.
type SuggestRequest struct {
	ModelId uuid.UUID `json:"model_id"`
}

type SuggestResponse struct {
	DatasetId uuid.UUID `json:"dataset_id"`
}
