package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"transtrack/internal/audit/models"
)

// payload is the JSON shape published to Kafka. Field names are part of the
// downstream contract; snapshots stay as-is since they are already JSON-safe.
type payload struct {
	ID            int64           `json:"id"`
	TableName     string          `json:"table_name"`
	RecordID      int64           `json:"record_id"`
	Operation     string          `json:"operation"`
	OldValues     models.Snapshot `json:"old_values,omitempty"`
	NewValues     models.Snapshot `json:"new_values,omitempty"`
	ChangedFields []string        `json:"changed_fields,omitempty"`
	RequestID     string          `json:"request_id,omitempty"`
	UserID        *int64          `json:"user_id,omitempty"`
	Reason        string          `json:"reason,omitempty"`
	ExtraData     map[string]any  `json:"extra_data,omitempty"`
	CreatedAt     string          `json:"created_at"`
}

// KafkaSink publishes ledger entries to a Kafka topic. Entries for the same
// record share a key so per-record ordering is preserved within a partition.
type KafkaSink struct {
	client *kgo.Client
	topic  string
}

func NewKafkaSink(brokers []string, topic string) (*KafkaSink, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	return &KafkaSink{client: client, topic: topic}, nil
}

func (s *KafkaSink) Publish(ctx context.Context, entry *models.AuditEntry) error {
	value, err := json.Marshal(payload{
		ID:            entry.ID,
		TableName:     entry.TableName,
		RecordID:      entry.RecordID,
		Operation:     string(entry.Operation),
		OldValues:     entry.OldValues,
		NewValues:     entry.NewValues,
		ChangedFields: entry.ChangedFields,
		RequestID:     entry.RequestID,
		UserID:        entry.UserID,
		Reason:        entry.Reason,
		ExtraData:     entry.ExtraData,
		CreatedAt:     entry.CreatedAt.Format(time.RFC3339Nano),
	})
	if err != nil {
		return fmt.Errorf("marshal audit payload: %w", err)
	}

	record := &kgo.Record{
		Topic: s.topic,
		Key:   []byte(entry.TableName + ":" + strconv.FormatInt(entry.RecordID, 10)),
		Value: value,
	}
	if err := s.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("produce audit entry: %w", err)
	}
	return nil
}

func (s *KafkaSink) Close() {
	s.client.Close()
}
