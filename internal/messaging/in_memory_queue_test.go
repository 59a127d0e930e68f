package messaging

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryQueuePublishConsume(t *testing.T) {
	queue := NewInMemoryQueue()
	defer queue.Close()

	payload := SuggestionTaskPayload{DatasetId: uuid.New(), ModelId: uuid.New()}
	require.NoError(t, queue.PublishSuggestionTask(context.Background(), payload))

	task := <-queue.Tasks()
	assert.Equal(t, SuggestionQueue, task.Type())

	var recieved SuggestionTaskPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &recieved))
	assert.Equal(t, payload, recieved)
	require.NoError(t, task.Ack())
}

func TestInMemoryQueuePublishAfterClose(t *testing.T) {
	queue := NewInMemoryQueue()
	queue.Close()

	err := queue.PublishSuggestionTask(context.Background(), SuggestionTaskPayload{DatasetId: uuid.New()})
	assert.ErrorContains(t, err, "queue is closed")

	err = queue.PublishFinetuneTask(context.Background(), FinetuneTaskPayload{ModelId: uuid.New()})
	assert.ErrorContains(t, err, "queue is closed")
}
