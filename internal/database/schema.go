package database

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	ModelQueued   string = "QUEUED"
	ModelTraining string = "TRAINING"
	ModelTrained  string = "TRAINED"
	ModelFailed   string = "FAILED"
)

type Model struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	BaseModelId uuid.NullUUID `gorm:"type:uuid"`
	BaseModel   *Model        `gorm:"foreignKey:BaseModelId"`

	Name           string
	Type           string `gorm:"size:20;not null"`
	Status         string `gorm:"size:20;not null"`
	CreationTime   time.Time
	CompletionTime sql.NullTime
}

const (
	JobQueued    string = "QUEUED"
	JobRunning   string = "RUNNING"
	JobCompleted string = "COMPLETED"
	JobFailed    string = "FAILED"
)

const (
	RecordPending   string = "PENDING"
	RecordSubmitted string = "SUBMITTED"
	RecordDiscarded string = "DISCARDED"
)

type Dataset struct {
	Id   uuid.UUID `gorm:"type:uuid;primaryKey"`
	Name string    `gorm:"not null"`

	Deleted bool `gorm:"default:false"`

	CreationTime time.Time

	Records []Record `gorm:"foreignKey:DatasetId;constraint:OnDelete:CASCADE"`

	SuggestionTasks []SuggestionTask `gorm:"foreignKey:DatasetId;constraint:OnDelete:CASCADE"`

	Errors []TaskError `gorm:"foreignKey:DatasetId;constraint:OnDelete:CASCADE"`
}

type Record struct {
	Id        uuid.UUID `gorm:"type:uuid;primaryKey"`
	DatasetId uuid.UUID `gorm:"type:uuid;index;not null"`

	ExternalId string
	Question   string `gorm:"not null"`
	Context    string `gorm:"not null"`
	Status     string `gorm:"size:20;not null"`

	SuggestionText  sql.NullString
	SuggestionScore sql.NullFloat64
	SuggestionStart sql.NullInt64
	SuggestionEnd   sql.NullInt64

	AnswerText  sql.NullString
	AnswerStart sql.NullInt64
	AnswerEnd   sql.NullInt64

	AnnotationTime sql.NullTime
}

type SuggestionTask struct {
	DatasetId uuid.UUID `gorm:"type:uuid;primaryKey"`
	Dataset   *Dataset  `gorm:"foreignKey:DatasetId;constraint:OnDelete:CASCADE"`

	ModelId uuid.UUID `gorm:"type:uuid;not null"`

	Status         string `gorm:"size:20;not null"`
	CreationTime   time.Time
	StartTime      sql.NullTime
	CompletionTime sql.NullTime

	SuggestedCount int `gorm:"default:0"`
	FailedCount    int `gorm:"default:0"`
}

type FinetuneTask struct {
	ModelId uuid.UUID `gorm:"type:uuid;primaryKey"`
	Model   *Model    `gorm:"foreignKey:ModelId;constraint:OnDelete:CASCADE"`

	DatasetId uuid.UUID `gorm:"type:uuid;not null"`

	Status         string `gorm:"size:20;not null"`
	CreationTime   time.Time
	StartTime      sql.NullTime
	CompletionTime sql.NullTime

	SampleCount  int `gorm:"default:0"`
	SkippedCount int `gorm:"default:0"`

	Config datatypes.JSON `gorm:"type:jsonb"` // api.TrainConfig + datagen options
}

type TaskError struct {
	DatasetId uuid.UUID `gorm:"type:uuid;primaryKey"`
	ErrorId   uuid.UUID `gorm:"type:uuid;primaryKey"`
	Error     string
	Timestamp time.Time
}
