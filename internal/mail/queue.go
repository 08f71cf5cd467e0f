package mail

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/smehub/apiserver/internal/logging"
	"github.com/smehub/apiserver/internal/mq"
)

// Publisher is the subset of mq.MQ used to enqueue messages.
type Publisher interface {
	Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error)
}

// Subscriber is the subset of mq.MQ used by the mailer worker.
type Subscriber interface {
	Subscribe(ctx context.Context, channel string, handler mq.Handler) error
}

// QueueMailer enqueues messages on a broker channel instead of sending them.
type QueueMailer struct {
	publisher Publisher
	channel   string
}

func NewQueueMailer(publisher Publisher, channel string) *QueueMailer {
	return &QueueMailer{publisher: publisher, channel: channel}
}

func (q *QueueMailer) Send(ctx context.Context, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	_, err = q.publisher.Publish(ctx, q.channel, data, map[string]string{
		mq.AttrContentType: "application/json",
		"kind":             "email",
	})
	if err != nil {
		return fmt.Errorf("enqueue email: %w", err)
	}
	return nil
}

// Consume delivers queued messages from channel with mailer until ctx is done.
// Undecodable payloads are dropped; delivery errors are returned to the broker
// for redelivery. With revealLinks set, the link of a message that cannot be
// sent because delivery is not configured is logged.
func Consume(ctx context.Context, sub Subscriber, channel string, mailer Mailer, log logging.Logger, revealLinks bool) error {
	return sub.Subscribe(ctx, channel, func(ctx context.Context, m mq.Message) error {
		var msg Message
		if err := json.Unmarshal(m.Data, &msg); err != nil || msg.To == "" {
			log.Warn(ctx, "dropping malformed email message", "message_id", m.ID)
			return nil
		}
		if err := mailer.Send(ctx, msg); err != nil {
			if errors.Is(err, ErrNotConfigured) {
				if revealLinks && msg.Link != "" {
					log.Warn(ctx, "email delivery not configured, logging link", "message_id", m.ID, "to", msg.To, "link", msg.Link)
					return nil
				}
				log.Error(ctx, "email delivery not configured, dropping message", "message_id", m.ID, "to", msg.To)
				return nil
			}
			log.Error(ctx, "email delivery failed", "message_id", m.ID, "to", msg.To, "error", err)
			return err
		}
		log.Info(ctx, "email delivered", "message_id", m.ID, "to", msg.To)
		return nil
	})
}
