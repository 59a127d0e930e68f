package api

import (
	"qa-backend/internal/database"
	"qa-backend/pkg/api"
)

func toApiRecord(record database.Record) api.Record {
	out := api.Record{
		Id:         record.Id,
		DatasetId:  record.DatasetId,
		ExternalId: record.ExternalId,
		Question:   record.Question,
		Context:    record.Context,
		Status:     record.Status,
	}

	if record.SuggestionText.Valid {
		out.Suggestion = &api.Answer{
			Text:  record.SuggestionText.String,
			Score: record.SuggestionScore.Float64,
			Start: int(record.SuggestionStart.Int64),
			End:   int(record.SuggestionEnd.Int64),
		}
	}

	if record.AnswerText.Valid {
		out.Annotation = &api.AnnotationSpan{
			Text:  record.AnswerText.String,
			Start: int(record.AnswerStart.Int64),
			End:   int(record.AnswerEnd.Int64),
		}
	}

	return out
}

func toApiRecords(records []database.Record) []api.Record {
	out := make([]api.Record, len(records))
	for i, record := range records {
		out[i] = toApiRecord(record)
	}
	return out
}

func toApiModel(model database.Model) api.Model {
	out := api.Model{
		Id:     model.Id,
		Name:   model.Name,
		Type:   model.Type,
		Status: model.Status,
	}
	if model.BaseModelId.Valid {
		id := model.BaseModelId.UUID
		out.BaseModelId = &id
	}
	return out
}
