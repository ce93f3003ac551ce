package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/google/uuid"

	"github.com/wolfman30/clinicops/internal/observability/metrics"
	"github.com/wolfman30/clinicops/pkg/logging"
)

// SQSAPI is the subset of the SQS client used here.
type SQSAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

type queueMessage struct {
	ID            string
	Body          string
	ReceiptHandle string
	ReceiveCount  int
}

// SQSQueue implements Queue backed by AWS/LocalStack SQS.
type SQSQueue struct {
	client   SQSAPI
	queueURL string
}

// NewSQSQueue creates a queue wrapper around the provided SQS client.
func NewSQSQueue(client SQSAPI, queueURL string) *SQSQueue {
	if client == nil {
		panic("events: SQS client cannot be nil")
	}
	if queueURL == "" {
		panic("events: SQS queueURL cannot be empty")
	}
	return &SQSQueue{client: client, queueURL: queueURL}
}

func (q *SQSQueue) Enqueue(ctx context.Context, tenantID, taskType string, payload any) (uuid.UUID, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return uuid.Nil, fmt.Errorf("events: marshal payload: %w", err)
	}
	task := Task{ID: uuid.New(), TenantID: tenantID, Type: taskType, Payload: data, CreatedAt: time.Now().UTC()}
	body, err := json.Marshal(task)
	if err != nil {
		return uuid.Nil, fmt.Errorf("events: marshal task: %w", err)
	}
	_, err = q.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(q.queueURL),
		MessageBody: aws.String(string(body)),
	})
	if err != nil {
		return uuid.Nil, fmt.Errorf("events: failed to send SQS message: %w", err)
	}
	return task.ID, nil
}

func (q *SQSQueue) receive(ctx context.Context, maxMessages, waitSeconds int) ([]queueMessage, error) {
	output, err := q.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:                    aws.String(q.queueURL),
		MaxNumberOfMessages:         int32(maxMessages),
		WaitTimeSeconds:             int32(waitSeconds),
		MessageSystemAttributeNames: []types.MessageSystemAttributeName{types.MessageSystemAttributeNameApproximateReceiveCount},
	})
	if err != nil {
		return nil, fmt.Errorf("events: failed to receive SQS messages: %w", err)
	}

	messages := make([]queueMessage, 0, len(output.Messages))
	for _, msg := range output.Messages {
		count, _ := strconv.Atoi(msg.Attributes[string(types.MessageSystemAttributeNameApproximateReceiveCount)])
		messages = append(messages, queueMessage{
			ID:            aws.ToString(msg.MessageId),
			Body:          aws.ToString(msg.Body),
			ReceiptHandle: aws.ToString(msg.ReceiptHandle),
			ReceiveCount:  count,
		})
	}
	return messages, nil
}

func (q *SQSQueue) delete(ctx context.Context, receiptHandle string) error {
	if receiptHandle == "" {
		return nil
	}
	_, err := q.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(q.queueURL),
		ReceiptHandle: aws.String(receiptHandle),
	})
	if err != nil {
		return fmt.Errorf("events: failed to delete SQS message: %w", err)
	}
	return nil
}

var _ Queue = (*SQSQueue)(nil)

// SQSConsumer long-polls an SQSQueue. Successful tasks are deleted; failed
// ones reappear after the visibility timeout until maxAttempts receives.
type SQSConsumer struct {
	queue       *SQSQueue
	handler     Handler
	logger      *logging.Logger
	metrics     *metrics.AutomationMetrics
	workers     int
	batchSize   int
	waitSeconds int
	maxAttempts int
	wg          sync.WaitGroup
}

func NewSQSConsumer(queue *SQSQueue, handler Handler, logger *logging.Logger) *SQSConsumer {
	if logger == nil {
		logger = logging.Default()
	}
	return &SQSConsumer{
		queue:       queue,
		handler:     handler,
		logger:      logger,
		workers:     2,
		batchSize:   10,
		waitSeconds: 20,
		maxAttempts: 8,
	}
}

func (c *SQSConsumer) WithWorkers(n int) *SQSConsumer {
	if n > 0 {
		c.workers = n
	}
	return c
}

func (c *SQSConsumer) WithMaxAttempts(n int) *SQSConsumer {
	if n > 0 {
		c.maxAttempts = n
	}
	return c
}

func (c *SQSConsumer) WithMetrics(m *metrics.AutomationMetrics) *SQSConsumer {
	c.metrics = m
	return c
}

// Start launches worker goroutines until ctx is cancelled.
func (c *SQSConsumer) Start(ctx context.Context) {
	for i := 0; i < c.workers; i++ {
		c.wg.Add(1)
		go c.run(ctx, i+1)
	}
}

// Wait blocks until all worker goroutines exit.
func (c *SQSConsumer) Wait() {
	c.wg.Wait()
}

func (c *SQSConsumer) run(ctx context.Context, workerID int) {
	defer c.wg.Done()
	backoff := time.Second

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		messages, err := c.queue.receive(ctx, c.batchSize, c.waitSeconds)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			c.logger.Error("failed to receive automation tasks", "error", err, "worker_id", workerID)
			time.Sleep(backoff)
			if backoff < 5*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		for _, msg := range messages {
			c.handleMessage(ctx, msg)
		}
	}
}

func (c *SQSConsumer) handleMessage(ctx context.Context, msg queueMessage) {
	var task Task
	if err := json.Unmarshal([]byte(msg.Body), &task); err != nil {
		c.logger.Error("failed to decode automation task", "error", err, "msg_id", msg.ID)
		c.deleteMessage(msg.ReceiptHandle)
		return
	}
	task.Attempts = msg.ReceiveCount - 1

	err := func() (err error) {
		defer func() {
			if p := recover(); p != nil {
				err = fmt.Errorf("events: handler panic: %v", p)
			}
		}()
		return c.handler.Handle(ctx, task)
	}()
	if err == nil {
		c.deleteMessage(msg.ReceiptHandle)
		c.metrics.ObserveTask(task.Type, "delivered")
		return
	}

	if msg.ReceiveCount >= c.maxAttempts {
		c.logger.Error("automation task dead-lettered", "error", err, "task_id", task.ID, "type", task.Type, "tenant_id", task.TenantID, "attempts", msg.ReceiveCount)
		c.deleteMessage(msg.ReceiptHandle)
		c.metrics.ObserveTask(task.Type, "dead_lettered")
		return
	}
	c.logger.Warn("automation task failed; will be redelivered", "error", err, "task_id", task.ID, "type", task.Type, "attempts", msg.ReceiveCount)
	c.metrics.ObserveTask(task.Type, "retried")
}

func (c *SQSConsumer) deleteMessage(receiptHandle string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.queue.delete(ctx, receiptHandle); err != nil {
		c.logger.Error("failed to delete automation task", "error", err)
	}
}
