//go:build integration
// +build integration

// Run with: go test -tags=integration ./internal/messaging/...

package messaging

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/rabbitmq"
)

func setupRabbitMQContainer(t *testing.T, ctx context.Context) string {
	rabbitmqContainer, err := rabbitmq.Run(ctx, "rabbitmq:3.12.11-management-alpine")
	require.NoError(t, err, "Failed to start RabbitMQ container")

	t.Cleanup(func() {
		err := rabbitmqContainer.Terminate(context.Background())
		require.NoError(t, err, "Failed to terminate RabbitMQ container")
	})

	connStr, err := rabbitmqContainer.AmqpURL(ctx)
	require.NoError(t, err, "Failed to get RabbitMQ AMQP URL")

	return connStr
}

func TestPublishConsumeTasks(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode.")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	connStr := setupRabbitMQContainer(t, ctx)

	publisher, err := NewRabbitMQPublisher(connStr)
	require.NoError(t, err)
	defer publisher.Close()

	receiver, err := NewRabbitMQReceiver(connStr)
	require.NoError(t, err)
	defer receiver.Close()

	suggestionPayload := SuggestionTaskPayload{DatasetId: uuid.New(), ModelId: uuid.New()}
	require.NoError(t, publisher.PublishSuggestionTask(ctx, suggestionPayload))

	finetunePayload := FinetuneTaskPayload{ModelId: uuid.New(), BaseModelId: uuid.New(), DatasetId: uuid.New()}
	require.NoError(t, publisher.PublishFinetuneTask(ctx, finetunePayload))

	recieved := map[string]bool{}

	for i := 0; i < 2; i++ {
		select {
		case task := <-receiver.Tasks():
			switch task.Type() {
			case SuggestionQueue:
				var payload SuggestionTaskPayload
				require.NoError(t, json.Unmarshal(task.Payload(), &payload))
				assert.Equal(t, suggestionPayload, payload)
			case FinetuneQueue:
				var payload FinetuneTaskPayload
				require.NoError(t, json.Unmarshal(task.Payload(), &payload))
				assert.Equal(t, finetunePayload, payload)
			default:
				t.Fatalf("unexpected task type %s", task.Type())
			}
			require.NoError(t, task.Ack())
			recieved[task.Type()] = true
		case <-time.After(30 * time.Second):
			t.Fatal("timeout waiting for task")
		}
	}

	assert.True(t, recieved[SuggestionQueue])
	assert.True(t, recieved[FinetuneQueue])
}
