package outbox

import (
	"context"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
)

// Event is a schema-framed outbox record ready for the broker. The producer
// turns it into a Kafka message carrying the event_type and schema_subject
// headers the projection consumer keys off.
type Event struct {
	Key           []byte
	Value         []byte
	EventType     string
	SchemaSubject string
	At            time.Time
}

func (e Event) message() kafka.Message {
	return kafka.Message{
		Key:   e.Key,
		Value: e.Value,
		Time:  e.At,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(e.EventType)},
			{Key: "schema_subject", Value: []byte(e.SchemaSubject)},
		},
	}
}

// KafkaProducer lazily manages writers per topic.
type KafkaProducer struct {
	brokers []string
	mu      sync.Mutex
	writers map[string]*kafka.Writer
}

// NewKafkaProducer creates a KafkaProducer.
func NewKafkaProducer(brokers []string) *KafkaProducer {
	return &KafkaProducer{
		brokers: brokers,
		writers: make(map[string]*kafka.Writer),
	}
}

// WriteEvents delivers events to the given topic, creating a writer if
// necessary.
func (p *KafkaProducer) WriteEvents(ctx context.Context, topic string, events ...Event) error {
	msgs := make([]kafka.Message, len(events))
	for i, event := range events {
		msgs[i] = event.message()
	}
	return p.writerForTopic(topic).WriteMessages(ctx, msgs...)
}

func (p *KafkaProducer) writerForTopic(topic string) *kafka.Writer {
	p.mu.Lock()
	defer p.mu.Unlock()

	if writer, ok := p.writers[topic]; ok {
		return writer
	}

	// Keys are user IDs; hash partitioning keeps per-user event order.
	writer := &kafka.Writer{
		Addr:         kafka.TCP(p.brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Compression:  kafka.Snappy,
		Async:        false,
	}
	p.writers[topic] = writer
	return writer
}

// Close releases all writers.
func (p *KafkaProducer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var firstErr error
	for topic, writer := range p.writers {
		if err := writer.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(p.writers, topic)
	}
	return firstErr
}
