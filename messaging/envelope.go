package messaging

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// ErrMalformedPayload is returned when a message body cannot be decoded
var ErrMalformedPayload = errors.New("messaging: malformed payload")

// DeathRecord is one entry of the x-death header the broker maintains
type DeathRecord struct {
	Queue       string
	Reason      string
	Exchange    string
	Count       int64
	RoutingKeys []string
	Time        time.Time
}

// Envelope is the handler-facing view of a delivery
type Envelope struct {
	Queue         string
	Exchange      string
	RoutingKey    string
	MessageID     string
	CorrelationID string
	Type          string
	ContentType   string
	Timestamp     time.Time
	Redelivered   bool
	Headers       amqp.Table
	Body          []byte
	Deaths        []DeathRecord
}

// NewEnvelope builds an envelope from a delivery consumed on queue
func NewEnvelope(queue string, d amqp.Delivery) *Envelope {
	return &Envelope{
		Queue:         queue,
		Exchange:      d.Exchange,
		RoutingKey:    d.RoutingKey,
		MessageID:     d.MessageId,
		CorrelationID: d.CorrelationId,
		Type:          d.Type,
		ContentType:   d.ContentType,
		Timestamp:     d.Timestamp,
		Redelivered:   d.Redelivered,
		Headers:       d.Headers,
		Body:          d.Body,
		Deaths:        DeathHistory(d.Headers),
	}
}

// RedeliveryCount is how many times the message has been dead-lettered along
// its most recent path
func (e *Envelope) RedeliveryCount() int {
	if len(e.Deaths) == 0 {
		return 0
	}
	return int(e.Deaths[0].Count)
}

// Decode unmarshals the JSON body into v
func (e *Envelope) Decode(v interface{}) error {
	if err := json.Unmarshal(e.Body, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return nil
}

// RedeliveryCount reads x-death[0].count from headers. It returns 0 when the
// header is missing or not shaped the way the broker writes it.
func RedeliveryCount(headers amqp.Table) int {
	deaths, ok := headers["x-death"].([]interface{})
	if !ok || len(deaths) == 0 {
		return 0
	}
	entry, ok := deaths[0].(amqp.Table)
	if !ok {
		return 0
	}
	count, ok := toInt64(entry["count"])
	if !ok || count < 0 {
		return 0
	}
	return int(count)
}

// DeathHistory parses the x-death header, most recent entry first. Entries
// that are not tables are skipped.
func DeathHistory(headers amqp.Table) []DeathRecord {
	deaths, ok := headers["x-death"].([]interface{})
	if !ok {
		return nil
	}

	records := make([]DeathRecord, 0, len(deaths))
	for _, raw := range deaths {
		entry, ok := raw.(amqp.Table)
		if !ok {
			continue
		}

		record := DeathRecord{}
		record.Queue, _ = entry["queue"].(string)
		record.Reason, _ = entry["reason"].(string)
		record.Exchange, _ = entry["exchange"].(string)
		record.Time, _ = entry["time"].(time.Time)
		if count, ok := toInt64(entry["count"]); ok {
			record.Count = count
		}
		if keys, ok := entry["routing-keys"].([]interface{}); ok {
			for _, k := range keys {
				if s, ok := k.(string); ok {
					record.RoutingKeys = append(record.RoutingKeys, s)
				}
			}
		}
		records = append(records, record)
	}
	return records
}

func toInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int32:
		return int64(n), true
	case int:
		return int64(n), true
	case int16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case float64:
		return int64(n), true
	case float32:
		return int64(n), true
	default:
		return 0, false
	}
}
