//go:build integration

package stream_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kgo"

	"transtrack/internal/audit/models"
	"transtrack/internal/audit/stream"
	"transtrack/pkg/testutil/containers"
)

// =============================================================================
// Kafka Sink Integration Test Suite
// =============================================================================

const testTopic = "transtrack.audit.test"

type KafkaSinkSuite struct {
	suite.Suite
	broker string
	sink   *stream.KafkaSink
	ctx    context.Context
}

func TestKafkaSinkSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(KafkaSinkSuite))
}

func (s *KafkaSinkSuite) SetupSuite() {
	s.ctx = context.Background()
	s.broker = containers.GetManager().GetRedpanda(s.T()).SeedBroker

	var err error
	s.sink, err = stream.NewKafkaSink([]string{s.broker}, testTopic)
	s.Require().NoError(err)
}

func (s *KafkaSinkSuite) TearDownSuite() {
	if s.sink != nil {
		s.sink.Close()
	}
}

func (s *KafkaSinkSuite) consume(n int) []*kgo.Record {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(s.broker),
		kgo.ConsumeTopics(testTopic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	)
	s.Require().NoError(err)
	defer client.Close()

	var records []*kgo.Record
	deadline := time.Now().Add(15 * time.Second)
	for len(records) < n && time.Now().Before(deadline) {
		fetchCtx, cancel := context.WithTimeout(s.ctx, 2*time.Second)
		fetches := client.PollFetches(fetchCtx)
		cancel()
		fetches.EachRecord(func(r *kgo.Record) {
			records = append(records, r)
		})
	}
	s.Require().GreaterOrEqual(len(records), n, "expected %d records on %s", n, testTopic)
	return records
}

func (s *KafkaSinkSuite) userID(id int64) *int64 { return &id }

func (s *KafkaSinkSuite) TestPublish() {
	createdAt := time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)
	entries := []*models.AuditEntry{
		{
			ID: 1, TableName: "applications", RecordID: 7,
			Operation:     models.OperationUpdate,
			OldValues:     models.Snapshot{"overall_status": "draft"},
			NewValues:     models.Snapshot{"overall_status": "live"},
			ChangedFields: []string{"overall_status"},
			RequestID:     "req-1",
			UserID:        s.userID(3),
			Reason:        "went live",
			CreatedAt:     createdAt,
		},
		{
			ID: 2, TableName: "applications", RecordID: 7,
			Operation: models.OperationDelete,
			OldValues: models.Snapshot{"overall_status": "live"},
			CreatedAt: createdAt.Add(time.Minute),
		},
	}
	for _, entry := range entries {
		s.Require().NoError(s.sink.Publish(s.ctx, entry))
	}

	records := s.consume(2)

	s.Run("payload carries the full entry", func() {
		var got struct {
			ID            int64           `json:"id"`
			TableName     string          `json:"table_name"`
			RecordID      int64           `json:"record_id"`
			Operation     string          `json:"operation"`
			OldValues     models.Snapshot `json:"old_values"`
			NewValues     models.Snapshot `json:"new_values"`
			ChangedFields []string        `json:"changed_fields"`
			RequestID     string          `json:"request_id"`
			UserID        *int64          `json:"user_id"`
			Reason        string          `json:"reason"`
			CreatedAt     string          `json:"created_at"`
		}
		s.Require().NoError(json.Unmarshal(records[0].Value, &got))
		s.Equal(int64(1), got.ID)
		s.Equal("applications", got.TableName)
		s.Equal(int64(7), got.RecordID)
		s.Equal("UPDATE", got.Operation)
		s.Equal(models.Snapshot{"overall_status": "draft"}, got.OldValues)
		s.Equal(models.Snapshot{"overall_status": "live"}, got.NewValues)
		s.Equal([]string{"overall_status"}, got.ChangedFields)
		s.Equal("req-1", got.RequestID)
		s.Require().NotNil(got.UserID)
		s.Equal(int64(3), *got.UserID)
		s.Equal("went live", got.Reason)
		s.Equal("2026-05-10T12:00:00Z", got.CreatedAt)
	})

	s.Run("entries for one record share a key", func() {
		s.Equal([]byte("applications:7"), records[0].Key)
		s.Equal(records[0].Key, records[1].Key)
		s.Equal(records[0].Partition, records[1].Partition)
	})

	s.Run("topic offsets advance", func() {
		adm := kadm.NewClient(mustClient(s.T(), s.broker))
		defer adm.Close()

		offsets, err := adm.ListEndOffsets(s.ctx, testTopic)
		s.Require().NoError(err)
		var total int64
		offsets.Each(func(o kadm.ListedOffset) { total += o.Offset })
		s.GreaterOrEqual(total, int64(2))
	})
}

func (s *KafkaSinkSuite) TestRelayEndToEnd() {
	inbox := make(chan *models.AuditEntry, 8)
	relay := stream.NewRelay(s.sink, inbox)

	ctx, cancel := context.WithCancel(s.ctx)
	done := make(chan error, 1)
	go func() { done <- relay.Run(ctx) }()

	inbox <- &models.AuditEntry{
		ID: 100, TableName: "sub_tasks", RecordID: 1,
		Operation: models.OperationInsert,
		NewValues: models.Snapshot{"task_status": "in_progress"},
		CreatedAt: time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC),
	}

	s.Eventually(func() bool {
		for _, r := range s.consumeQuiet() {
			if string(r.Key) == "sub_tasks:1" {
				return true
			}
		}
		return false
	}, 15*time.Second, 200*time.Millisecond)

	cancel()
	s.ErrorIs(<-done, context.Canceled)
}

// consumeQuiet reads whatever is currently on the topic without failing when
// it is empty; Eventually owns the retry loop.
func (s *KafkaSinkSuite) consumeQuiet() []*kgo.Record {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(s.broker),
		kgo.ConsumeTopics(testTopic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	)
	s.Require().NoError(err)
	defer client.Close()

	fetchCtx, cancel := context.WithTimeout(s.ctx, 2*time.Second)
	defer cancel()
	var records []*kgo.Record
	client.PollFetches(fetchCtx).EachRecord(func(r *kgo.Record) {
		records = append(records, r)
	})
	return records
}

func mustClient(t *testing.T, broker string) *kgo.Client {
	t.Helper()
	client, err := kgo.NewClient(kgo.SeedBrokers(broker))
	if err != nil {
		t.Fatalf("create kafka client: %v", err)
	}
	return client
}
