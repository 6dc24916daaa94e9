package store

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/Filichkin/AV-ASSISTANT/app/config"
	"github.com/redis/go-redis/v9"
	"github.com/samber/do"
)

const (
	queueKey      = "avito:messages:queue"
	processingKey = "avito:messages:processing"
	dialogPrefix  = "avito:dialog:"
	statsKey      = "avito:stats"
	messagePrefix = "avito:message:"

	messageTTL = time.Hour
	dialogTTL  = 24 * time.Hour
)

var _ do.Shutdownable = (*Service)(nil)

// Service is the only component that touches durable state. The worker is
// the sole writer; the monitor reads the same keys.
type Service struct {
	client    *redis.Client
	dialogTTL time.Duration
}

func New(di *do.Injector) (*Service, error) {
	ctx := do.MustInvoke[context.Context](di)
	cfg := do.MustInvoke[*config.Config](di)

	opts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		return nil, wrap("parse url", err)
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, wrap("ping", err)
	}

	slog.Info("Connected to Redis", "url", cfg.Redis.URL)

	return &Service{
		client:    client,
		dialogTTL: dialogTTL,
	}, nil
}

func (s *Service) Shutdown() error {
	return s.client.Close()
}

func (s *Service) Ping(ctx context.Context) error {
	return wrap("ping", s.client.Ping(ctx).Err())
}

// ===== Dialog state =====

func (s *Service) SaveDialogState(ctx context.Context, state *DialogState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return wrap("marshal dialog", err)
	}

	if err := s.client.Set(ctx, dialogPrefix+state.ChatID, data, s.dialogTTL).Err(); err != nil {
		return wrap("save dialog", err)
	}

	return nil
}

// GetDialogState returns nil without error if no record exists for the chat.
func (s *Service) GetDialogState(ctx context.Context, chatID string) (*DialogState, error) {
	data, err := s.client.Get(ctx, dialogPrefix+chatID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, wrap("get dialog", err)
	}

	var state DialogState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, wrap("unmarshal dialog", err)
	}

	return &state, nil
}

// ActiveDialogCount counts non-expired dialog records via SCAN.
func (s *Service) ActiveDialogCount(ctx context.Context) (int, error) {
	var (
		cursor uint64
		count  int
	)

	for {
		keys, next, err := s.client.Scan(ctx, cursor, dialogPrefix+"*", 100).Result()
		if err != nil {
			return 0, wrap("scan dialogs", err)
		}

		count += len(keys)
		cursor = next

		if cursor == 0 {
			return count, nil
		}
	}
}

// ===== Worker statistics =====

func (s *Service) SaveStats(ctx context.Context, stats *WorkerStats) error {
	data, err := json.Marshal(stats)
	if err != nil {
		return wrap("marshal stats", err)
	}

	if err := s.client.Set(ctx, statsKey, data, 0).Err(); err != nil {
		return wrap("save stats", err)
	}

	return nil
}

// GetStats returns zero-valued stats if the record is absent or unreadable.
func (s *Service) GetStats(ctx context.Context) (*WorkerStats, error) {
	data, err := s.client.Get(ctx, statsKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return &WorkerStats{}, nil
	}
	if err != nil {
		return &WorkerStats{}, wrap("get stats", err)
	}

	var stats WorkerStats
	if err := json.Unmarshal(data, &stats); err != nil {
		return &WorkerStats{}, wrap("unmarshal stats", err)
	}

	return &stats, nil
}

// ===== Message queue (queued dispatch strategy) =====

func (s *Service) EnqueueMessage(ctx context.Context, msg *QueuedMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return wrap("marshal message", err)
	}

	if err := s.client.Set(ctx, messagePrefix+msg.MessageID, data, messageTTL).Err(); err != nil {
		return wrap("save message", err)
	}

	if err := s.client.RPush(ctx, queueKey, msg.MessageID).Err(); err != nil {
		return wrap("enqueue message", err)
	}

	return nil
}

// DequeueMessage atomically moves the oldest queued message id to the
// processing list and loads its payload. Returns nil if the queue is empty.
func (s *Service) DequeueMessage(ctx context.Context) (*QueuedMessage, error) {
	messageID, err := s.client.LMove(ctx, queueKey, processingKey, "LEFT", "RIGHT").Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, wrap("dequeue message", err)
	}

	data, err := s.client.Get(ctx, messagePrefix+messageID).Bytes()
	if errors.Is(err, redis.Nil) {
		// Payload expired while queued; drop the orphaned id.
		slog.Warn("Queued message payload expired", "message_id", messageID)
		_ = s.client.LRem(ctx, processingKey, 1, messageID).Err()
		return nil, nil
	}
	if err != nil {
		return nil, wrap("load message", err)
	}

	var msg QueuedMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, wrap("unmarshal message", err)
	}

	msg.Status = StatusProcessing

	return &msg, nil
}

func (s *Service) CompleteMessage(ctx context.Context, messageID string) error {
	if err := s.client.LRem(ctx, processingKey, 1, messageID).Err(); err != nil {
		return wrap("complete message", err)
	}

	return s.setMessageStatus(ctx, messageID, func(msg *QueuedMessage) {
		msg.Status = StatusCompleted
	})
}

func (s *Service) FailMessage(ctx context.Context, messageID string, cause string) error {
	if err := s.client.LRem(ctx, processingKey, 1, messageID).Err(); err != nil {
		return wrap("fail message", err)
	}

	slog.Error("Message processing failed", "message_id", messageID, "cause", cause)

	return s.setMessageStatus(ctx, messageID, func(msg *QueuedMessage) {
		msg.Status = StatusFailed
		msg.RetryCount++
	})
}

func (s *Service) setMessageStatus(ctx context.Context, messageID string, update func(*QueuedMessage)) error {
	key := messagePrefix + messageID

	data, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return wrap("load message", err)
	}

	var msg QueuedMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return wrap("unmarshal message", err)
	}

	update(&msg)

	updated, err := json.Marshal(&msg)
	if err != nil {
		return wrap("marshal message", err)
	}

	return wrap("save message", s.client.Set(ctx, key, updated, messageTTL).Err())
}

func (s *Service) QueueLen(ctx context.Context) (int64, error) {
	n, err := s.client.LLen(ctx, queueKey).Result()
	return n, wrap("queue length", err)
}

func (s *Service) ProcessingCount(ctx context.Context) (int64, error) {
	n, err := s.client.LLen(ctx, processingKey).Result()
	return n, wrap("processing count", err)
}
