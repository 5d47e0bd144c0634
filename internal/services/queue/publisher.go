package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/phambaophuc/image-relay/internal/models"
	"github.com/streadway/amqp"
	"go.uber.org/zap"
)

// RecordSession publishes a session record.
func (q *QueueService) RecordSession(ctx context.Context, rec models.SessionRecord) error {
	return q.publish(ctx, RecordMessage{Kind: KindSession, Session: &rec})
}

// RecordImage publishes an image record.
func (q *QueueService) RecordImage(ctx context.Context, rec models.ImageRecord) error {
	return q.publish(ctx, RecordMessage{Kind: KindImage, Image: &rec})
}

func (q *QueueService) publish(ctx context.Context, msg RecordMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	body, err := encodeMessage(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	q.publishMu.Lock()
	err = q.channel.Publish(
		"",          // exchange
		q.queueName, // routing key
		false,       // mandatory
		false,       // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
			Type:         msg.Kind,
		},
	)
	q.publishMu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to publish record: %w", err)
	}

	q.logger.Debug("Record published to queue", zap.String("kind", msg.Kind))
	return nil
}
