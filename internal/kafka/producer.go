package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"ms-lottery/internal/config"
	"ms-lottery/internal/logger"
	"ms-lottery/internal/models"
)

// MessageWriter is the part of *kafka.Writer the producer needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Producer struct {
	Writer MessageWriter
	Topics config.TopicConfig
	log    *logger.Logger
}

// NewProducer writes to every ticket topic through one writer; the topic is
// set per message and the ticket id is the partition key.
func NewProducer(brokers []string, topics config.TopicConfig, log *logger.Logger) *Producer {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 50 * time.Millisecond,
	}
	return &Producer{Writer: writer, Topics: topics, log: log}
}

func (p *Producer) PublishTicketCreated(ctx context.Context, t models.Ticket) error {
	return p.publish(ctx, p.Topics.TicketCreated, models.NewTicketEventDto(models.TicketEventCreated, t))
}

func (p *Producer) PublishTicketPaid(ctx context.Context, t models.Ticket) error {
	return p.publish(ctx, p.Topics.TicketPaid, models.NewTicketEventDto(models.TicketEventPaid, t))
}

func (p *Producer) PublishTicketFailed(ctx context.Context, t models.Ticket) error {
	return p.publish(ctx, p.Topics.TicketFailed, models.NewTicketEventDto(models.TicketEventFailed, t))
}

func (p *Producer) publish(ctx context.Context, topic string, evt models.TicketEventDto) error {
	msgBytes, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", evt.Type, err)
	}

	p.log.LogKafka("PUBLISH", topic, fmt.Sprintf("%s %s", evt.Type, evt.TicketID))

	err = p.Writer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   []byte(evt.TicketID),
		Value: msgBytes,
	})
	if err != nil {
		return fmt.Errorf("publish %s to %s: %w", evt.Type, topic, err)
	}
	return nil
}

func (p *Producer) Close() error {
	return p.Writer.Close()
}
