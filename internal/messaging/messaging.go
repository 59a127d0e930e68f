package messaging

import (
	"context"
	"time"

	"github.com/google/uuid"
)

const (
	FinetuneQueue   = "finetune_queue"
	SuggestionQueue = "suggestion_queue"
	RetryDelay      = 5 * time.Second
	MaxConnectRetry = 5
)

type Task interface {
	Type() string

	Payload() []byte

	Ack() error

	Nack() error

	Reject() error
}

type FinetuneTaskPayload struct {
	ModelId     uuid.UUID
	BaseModelId uuid.UUID
	DatasetId   uuid.UUID
}

type SuggestionTaskPayload struct {
	DatasetId uuid.UUID
	ModelId   uuid.UUID
}

type Publisher interface {
	PublishFinetuneTask(ctx context.Context, payload FinetuneTaskPayload) error

	PublishSuggestionTask(ctx context.Context, payload SuggestionTaskPayload) error

	Close()
}

type Reciever interface {
	Tasks() <-chan Task

	Close()
}
