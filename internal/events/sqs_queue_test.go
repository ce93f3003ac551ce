package events

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wolfman30/clinicops/pkg/logging"
)

type fakeSQS struct {
	sent    []string
	deleted []string
}

func (f *fakeSQS) SendMessage(_ context.Context, in *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	f.sent = append(f.sent, aws.ToString(in.MessageBody))
	return &sqs.SendMessageOutput{}, nil
}

func (f *fakeSQS) ReceiveMessage(context.Context, *sqs.ReceiveMessageInput, ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	return &sqs.ReceiveMessageOutput{}, nil
}

func (f *fakeSQS) DeleteMessage(_ context.Context, in *sqs.DeleteMessageInput, _ ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	f.deleted = append(f.deleted, aws.ToString(in.ReceiptHandle))
	return &sqs.DeleteMessageOutput{}, nil
}

func TestSQSQueueEnqueueWrapsTask(t *testing.T) {
	api := &fakeSQS{}
	q := NewSQSQueue(api, "https://sqs.local/queue")

	id, err := q.Enqueue(context.Background(), "t1", TaskAppointmentCancelled, AppointmentStatusChangedV1{TenantID: "t1", Status: "cancelled"})
	require.NoError(t, err)
	require.Len(t, api.sent, 1)

	var task Task
	require.NoError(t, json.Unmarshal([]byte(api.sent[0]), &task))
	assert.Equal(t, id, task.ID)
	assert.Equal(t, TaskAppointmentCancelled, task.Type)

	var payload AppointmentStatusChangedV1
	require.NoError(t, json.Unmarshal(task.Payload, &payload))
	assert.Equal(t, "cancelled", payload.Status)
}

func message(t *testing.T, task Task, receipt string, receiveCount int) queueMessage {
	body, err := json.Marshal(task)
	require.NoError(t, err)
	return queueMessage{ID: receipt, Body: string(body), ReceiptHandle: receipt, ReceiveCount: receiveCount}
}

func TestSQSConsumerDeletesOnSuccessAndDeadLetter(t *testing.T) {
	api := &fakeSQS{}
	q := NewSQSQueue(api, "https://sqs.local/queue")
	failing := errors.New("store down")
	c := NewSQSConsumer(q, HandlerFunc(func(_ context.Context, task Task) error {
		if task.Type == "fail" {
			return failing
		}
		return nil
	}), logging.Discard()).WithMaxAttempts(3)

	c.handleMessage(context.Background(), message(t, Task{ID: uuid.New(), Type: "ok"}, "r-ok", 1))
	c.handleMessage(context.Background(), message(t, Task{ID: uuid.New(), Type: "fail"}, "r-retry", 2))
	c.handleMessage(context.Background(), message(t, Task{ID: uuid.New(), Type: "fail"}, "r-dead", 3))
	c.handleMessage(context.Background(), queueMessage{Body: "not json", ReceiptHandle: "r-garbage"})

	assert.Equal(t, []string{"r-ok", "r-dead", "r-garbage"}, api.deleted)
}

func TestSQSReceiveParsesReceiveCount(t *testing.T) {
	api := &receivingSQS{count: 4}
	q := NewSQSQueue(api, "https://sqs.local/queue")
	msgs, err := q.receive(context.Background(), 10, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, 4, msgs[0].ReceiveCount)
}

type receivingSQS struct {
	fakeSQS
	count int
}

func (r *receivingSQS) ReceiveMessage(context.Context, *sqs.ReceiveMessageInput, ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	return &sqs.ReceiveMessageOutput{Messages: []types.Message{{
		MessageId:     aws.String("m1"),
		Body:          aws.String("{}"),
		ReceiptHandle: aws.String("r1"),
		Attributes: map[string]string{
			string(types.MessageSystemAttributeNameApproximateReceiveCount): strconv.Itoa(r.count),
		},
	}}}, nil
}
