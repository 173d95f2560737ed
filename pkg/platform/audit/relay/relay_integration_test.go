//go:build integration

package relay_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"
	"github.com/twmb/franz-go/pkg/kgo"

	id "redline/pkg/domain"
	audit "redline/pkg/platform/audit"
	"redline/pkg/platform/audit/relay"
	auditpg "redline/pkg/platform/audit/store/postgres"
	"redline/pkg/testutil/containers"
)

type RelaySuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	redpanda *containers.RedpandaContainer
	store    *auditpg.Store
	producer *kgo.Client
}

func TestRelaySuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RelaySuite))
}

func (s *RelaySuite) SetupSuite() {
	mgr := containers.GetManager()
	s.postgres = mgr.GetPostgres(s.T())
	s.redpanda = mgr.GetRedpanda(s.T())
	s.store = auditpg.New(s.postgres.DB)

	producer, err := kgo.NewClient(
		kgo.SeedBrokers(s.redpanda.Brokers...),
		kgo.AllowAutoTopicCreation(),
	)
	s.Require().NoError(err)
	s.producer = producer
}

func (s *RelaySuite) TearDownSuite() {
	if s.producer != nil {
		s.producer.Close()
	}
}

func (s *RelaySuite) SetupTest() {
	s.Require().NoError(s.postgres.TruncateTables(context.Background(), "audit_outbox"))
}

func (s *RelaySuite) newRelay(topic string) *relay.Relay {
	return relay.New(s.postgres.DB, s.producer, topic, slog.New(slog.DiscardHandler))
}

func (s *RelaySuite) appendEvent(workspaceID id.WorkspaceID, action audit.Action) {
	s.T().Helper()
	err := s.store.Append(context.Background(), audit.Event{
		Timestamp:   time.Now().UTC(),
		WorkspaceID: workspaceID,
		ActorID:     id.UserID(uuid.New()),
		Action:      action,
		TargetType:  audit.TargetDriftItem,
		TargetID:    uuid.NewString(),
		After:       audit.Snapshot(map[string]string{"status": "overridden"}),
		Reason:      "agreed on the revised amount",
	})
	s.Require().NoError(err)
}

// consume reads want records from topic or fails after the deadline.
func (s *RelaySuite) consume(topic string, want int) []*kgo.Record {
	s.T().Helper()

	consumer, err := kgo.NewClient(
		kgo.SeedBrokers(s.redpanda.Brokers...),
		kgo.ConsumeTopics(topic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	)
	s.Require().NoError(err)
	defer consumer.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var records []*kgo.Record
	for len(records) < want {
		fetches := consumer.PollFetches(ctx)
		s.Require().NoError(fetches.Err0(), "poll fetches")
		fetches.EachRecord(func(r *kgo.Record) {
			records = append(records, r)
		})
	}
	return records
}

func (s *RelaySuite) TestRelayOncePublishesAndMarks() {
	ctx := context.Background()
	topic := "redline.audit." + uuid.NewString()
	workspaceID := id.WorkspaceID(uuid.New())

	s.appendEvent(workspaceID, audit.ActionDriftOverridden)
	s.appendEvent(workspaceID, audit.ActionDriftApproved)

	n, err := s.newRelay(topic).RelayOnce(ctx)
	s.Require().NoError(err)
	s.Equal(2, n)

	records := s.consume(topic, 2)
	s.Require().Len(records, 2)
	for _, r := range records {
		s.Equal(workspaceID.String(), string(r.Key), "records should be keyed by workspace")
		var payload map[string]any
		s.Require().NoError(json.Unmarshal(r.Value, &payload))
		s.NotEmpty(payload["ID"])
		s.Equal("compliance", payload["Category"])
	}

	var unpublished int
	err = s.postgres.DB.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM audit_outbox WHERE published_at IS NULL`).Scan(&unpublished)
	s.Require().NoError(err)
	s.Equal(0, unpublished, "all rows should be marked published")
}

func (s *RelaySuite) TestRelayOnceEmptyOutbox() {
	n, err := s.newRelay("redline.audit." + uuid.NewString()).RelayOnce(context.Background())
	s.Require().NoError(err)
	s.Equal(0, n)
}

// TestRelayOnceIdempotentAfterPublish verifies that published rows are not
// picked up again.
func (s *RelaySuite) TestRelayOnceIdempotentAfterPublish() {
	ctx := context.Background()
	topic := "redline.audit." + uuid.NewString()
	r := s.newRelay(topic)

	s.appendEvent(id.WorkspaceID(uuid.New()), audit.ActionGraphSynced)

	n, err := r.RelayOnce(ctx)
	s.Require().NoError(err)
	s.Equal(1, n)

	n, err = r.RelayOnce(ctx)
	s.Require().NoError(err)
	s.Equal(0, n)
}

func (s *RelaySuite) TestBatchSizeLimitsTick() {
	ctx := context.Background()
	topic := "redline.audit." + uuid.NewString()
	r := relay.New(s.postgres.DB, s.producer, topic,
		slog.New(slog.DiscardHandler), relay.WithBatchSize(2))

	workspaceID := id.WorkspaceID(uuid.New())
	for i := 0; i < 5; i++ {
		s.appendEvent(workspaceID, audit.ActionDriftDetected)
	}

	var total int
	for {
		n, err := r.RelayOnce(ctx)
		s.Require().NoError(err)
		if n == 0 {
			break
		}
		s.LessOrEqual(n, 2)
		total += n
	}
	s.Equal(5, total)
}
