package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/arklim/session-security/internal/core/domain"
	"github.com/arklim/session-security/internal/core/port"
	"github.com/arklim/session-security/internal/infra/config"
)

const consumeRetryBackoff = 2 * time.Second

var changeSources = []string{
	domain.ChangeSourceUserRoles,
	domain.ChangeSourceBootstrapTokens,
	domain.ChangeSourcePrivilegeEscalation,
}

// ChangeFeed consumes change envelopes for the watched admin tables from a consumer group.
type ChangeFeed struct {
	group   sarama.ConsumerGroup
	tables  map[string]string
	logger  *zap.Logger
	backoff time.Duration
}

// NewChangeFeed joins the configured consumer group.
func NewChangeFeed(cfg config.KafkaSettings, logger *zap.Logger) (*ChangeFeed, error) {
	saramaConfig := newSaramaConfig()
	saramaConfig.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	saramaConfig.Consumer.Offsets.Initial = sarama.OffsetNewest
	saramaConfig.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.ConsumerGroup, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("create kafka consumer group: %w", err)
	}

	feed := newChangeFeed(group, cfg.TopicPrefix, logger)

	if logger != nil {
		logger.Info("kafka change feed initialized",
			zap.Strings("brokers", cfg.Brokers),
			zap.String("group", cfg.ConsumerGroup),
			zap.Strings("topics", feed.Topics()),
		)
	}

	return feed, nil
}

func newChangeFeed(group sarama.ConsumerGroup, prefix string, logger *zap.Logger) *ChangeFeed {
	if logger == nil {
		logger = zap.NewNop()
	}

	tables := make(map[string]string, len(changeSources))
	for _, source := range changeSources {
		tables[topicName(prefix, "cdc."+source)] = source
	}

	return &ChangeFeed{
		group:   group,
		tables:  tables,
		logger:  logger,
		backoff: consumeRetryBackoff,
	}
}

// Topics lists the subscribed topics in a stable order.
func (f *ChangeFeed) Topics() []string {
	topics := make([]string, 0, len(f.tables))
	for topic := range f.tables {
		topics = append(topics, topic)
	}
	sort.Strings(topics)
	return topics
}

// Run consumes until ctx is cancelled or the group is closed. Consume returns on every rebalance, so it is re-entered in a loop.
func (f *ChangeFeed) Run(ctx context.Context, handle port.ChangeHandlerFunc) error {
	if handle == nil {
		return errors.New("change handler is nil")
	}

	handler := &changeHandler{handle: handle, tables: f.tables, logger: f.logger}
	topics := f.Topics()

	go f.drainErrors(ctx)

	for {
		if err := f.group.Consume(ctx, topics, handler); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) || ctx.Err() != nil {
				return nil
			}
			f.logger.Warn("change feed consume failed", zap.Error(err))

			select {
			case <-ctx.Done():
				return nil
			case <-time.After(f.backoff):
			}
		}

		if ctx.Err() != nil {
			return nil
		}
	}
}

func (f *ChangeFeed) drainErrors(ctx context.Context) {
	errs := f.group.Errors()
	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-errs:
			if !ok {
				return
			}
			f.logger.Warn("change feed consumer error", zap.Error(err))
		}
	}
}

// Close leaves the consumer group.
func (f *ChangeFeed) Close() error {
	if err := f.group.Close(); err != nil {
		return fmt.Errorf("close kafka consumer group: %w", err)
	}
	return nil
}

type changeHandler struct {
	handle port.ChangeHandlerFunc
	tables map[string]string
	logger *zap.Logger
}

func (h *changeHandler) Setup(sarama.ConsumerGroupSession) error { return nil }

func (h *changeHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

// ConsumeClaim marks every message, including ones that fail processing.
func (h *changeHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			if err := h.HandleMessage(session.Context(), msg); err != nil {
				h.logger.Error("change event processing failed",
					zap.String("topic", msg.Topic),
					zap.Int32("partition", msg.Partition),
					zap.Int64("offset", msg.Offset),
					zap.Error(err),
				)
			}
			session.MarkMessage(msg, "")
		case <-session.Context().Done():
			return nil
		}
	}
}

// HandleMessage decodes a change envelope and hands it to the handler.
func (h *changeHandler) HandleMessage(ctx context.Context, msg *sarama.ConsumerMessage) error {
	if msg == nil {
		return fmt.Errorf("message is nil")
	}

	event, err := decodeChangeEvent(msg.Value)
	if err != nil {
		return err
	}

	if event.Table == "" {
		event.Table = h.tables[msg.Topic]
	}
	if event.CommitTime.IsZero() && !msg.Timestamp.IsZero() {
		event.CommitTime = msg.Timestamp.UTC()
	}

	return h.handle(ctx, event)
}

func decodeChangeEvent(raw []byte) (domain.ChangeEvent, error) {
	var event domain.ChangeEvent
	if err := json.Unmarshal(raw, &event); err != nil {
		return domain.ChangeEvent{}, fmt.Errorf("decode change event: %w", err)
	}

	event.Table = strings.TrimSpace(event.Table)
	if i := strings.LastIndex(event.Table, "."); i >= 0 {
		event.Table = event.Table[i+1:]
	}
	event.Operation = strings.ToUpper(strings.TrimSpace(event.Operation))

	return event, nil
}

var _ port.ChangeFeed = (*ChangeFeed)(nil)
