package worker

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Filichkin/AV-ASSISTANT/app/client/agent"
	"github.com/Filichkin/AV-ASSISTANT/app/client/avito"
	"github.com/Filichkin/AV-ASSISTANT/app/config"
	"github.com/Filichkin/AV-ASSISTANT/app/service/store"
	"github.com/elliotchance/pie/v2"
	"github.com/samber/do"
	"golang.org/x/sync/errgroup"
)

// SourceAPI is the slice of the Avito client the orchestrator needs.
type SourceAPI interface {
	GetUnreadChats(ctx context.Context) ([]avito.Chat, error)
	GetMessages(ctx context.Context, chatID string, limit int) ([]avito.Message, error)
	SendMessage(ctx context.Context, chatID, text string) (*avito.SentMessage, error)
	MarkChatRead(ctx context.Context, chatID string) bool
}

// AnswerProvider produces one full reply per inbound message.
type AnswerProvider interface {
	GetAnswer(ctx context.Context, userText string) (string, error)
}

// StateStore is the durable state surface used by the orchestrator.
type StateStore interface {
	GetDialogState(ctx context.Context, chatID string) (*store.DialogState, error)
	SaveDialogState(ctx context.Context, state *store.DialogState) error
	ActiveDialogCount(ctx context.Context) (int, error)
	// GetStats returns a non-nil record even when the read fails: absent or
	// unreadable stats come back zero-valued alongside the error.
	GetStats(ctx context.Context) (*store.WorkerStats, error)
	SaveStats(ctx context.Context, stats *store.WorkerStats) error
	EnqueueMessage(ctx context.Context, msg *store.QueuedMessage) error
	DequeueMessage(ctx context.Context) (*store.QueuedMessage, error)
	CompleteMessage(ctx context.Context, messageID string) error
	FailMessage(ctx context.Context, messageID, cause string) error
}

// Service drives the poll/dispatch loop: list unread chats, pick the newest
// qualifying message per chat, acknowledge the chat, generate a reply and
// send it back, keeping dialog state and statistics in the store.
type Service struct {
	cfg        *config.Config
	avito      SourceAPI
	agent      AnswerProvider
	store      StateStore
	dispatcher Dispatcher

	statsMu sync.Mutex
}

func New(di *do.Injector) (*Service, error) {
	s := &Service{
		cfg:   do.MustInvoke[*config.Config](di),
		avito: do.MustInvoke[*avito.Client](di),
		agent: do.MustInvoke[*agent.Client](di),
		store: do.MustInvoke[*store.Service](di),
	}

	switch s.cfg.Worker.Dispatch {
	case "queued":
		s.dispatcher = newQueuedDispatcher(s)
	default:
		s.dispatcher = newInlineDispatcher(s)
	}

	return s, nil
}

// Run blocks until ctx is cancelled. The poll loop and the dispatcher run
// concurrently; with inline dispatch the latter just waits for shutdown.
func (s *Service) Run(ctx context.Context) error {
	slog.Info("Worker started",
		"poll_interval", s.cfg.Worker.PollInterval,
		"dispatch", s.cfg.Worker.Dispatch)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return s.dispatcher.Run(ctx)
	})

	g.Go(func() error {
		return s.pollLoop(ctx)
	})

	return g.Wait()
}

func (s *Service) pollLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		s.runCycle(ctx)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(s.cfg.Worker.PollInterval):
		}
	}
}

// runCycle is one poll iteration. A failed chat listing aborts only this
// cycle; failures inside a single conversation never leak past it.
func (s *Service) runCycle(ctx context.Context) {
	chats, err := s.avito.GetUnreadChats(ctx)
	if err != nil {
		slog.Error("Failed to list unread chats", "error", err)
		s.updateStats(ctx, func(stats *store.WorkerStats) {
			stats.LastError = err.Error()
		})
		return
	}

	for _, chat := range chats {
		select {
		case <-ctx.Done():
			return
		default:
		}

		s.handleChat(ctx, chat.ID)
	}

	now := time.Now().UTC()
	s.updateStats(ctx, func(stats *store.WorkerStats) {
		stats.LastPollTime = &now
	})
}

func (s *Service) handleChat(ctx context.Context, chatID string) {
	msg, err := s.selectMessage(ctx, chatID)
	if err != nil {
		slog.Error("Failed to fetch chat messages", "chat_id", chatID, "error", err)
		s.recordAttempt(ctx, err)
		return
	}

	if msg == nil {
		return
	}

	// Acknowledge before processing: a crash past this point must not make
	// the same stale message reprocessed on the next cycle.
	if !s.avito.MarkChatRead(ctx, chatID) {
		slog.Warn("Chat not acknowledged", "chat_id", chatID)
	}

	if err := s.dispatcher.Submit(ctx, msg); err != nil {
		slog.Error("Dispatch failed", "chat_id", chatID, "message_id", msg.MessageID, "error", err)
		s.recordAttempt(ctx, err)
	}
}

// selectMessage picks the single newest inbound unread text message of a
// chat. Older unread messages in the same batch are superseded and skipped.
// Returns nil if nothing qualifies.
func (s *Service) selectMessage(ctx context.Context, chatID string) (*store.QueuedMessage, error) {
	messages, err := s.avito.GetMessages(ctx, chatID, s.cfg.Worker.MessageFetchLimit)
	if err != nil {
		return nil, fmt.Errorf("get messages: %w", err)
	}

	candidates := pie.Filter(messages, func(m avito.Message) bool {
		return m.Direction == avito.DirectionIn &&
			!m.IsRead &&
			strings.TrimSpace(m.Content.Text) != ""
	})
	if len(candidates) == 0 {
		return nil, nil
	}

	sorted := pie.SortUsing(candidates, func(a, b avito.Message) bool {
		return a.Created < b.Created
	})
	newest := sorted[len(sorted)-1]

	return &store.QueuedMessage{
		MessageID: newest.ID,
		ChatID:    chatID,
		UserID:    strconv.FormatInt(newest.AuthorID, 10),
		Text:      newest.Content.Text,
		CreatedAt: time.Unix(newest.Created, 0).UTC(),
		Status:    store.StatusPending,
	}, nil
}

// process handles one selected message: upsert dialog state, generate the
// answer, send it. State writes are best-effort, reply delivery is not.
func (s *Service) process(ctx context.Context, msg *store.QueuedMessage) error {
	slog.Info("Processing message", "message_id", msg.MessageID, "chat_id", msg.ChatID)

	state, err := s.store.GetDialogState(ctx, msg.ChatID)
	if err != nil {
		slog.Warn("Failed to read dialog state", "chat_id", msg.ChatID, "error", err)
		state = nil
	}
	if state == nil {
		state = &store.DialogState{
			ChatID: msg.ChatID,
			UserID: msg.UserID,
		}
	}

	state.LastMessageID = msg.MessageID
	state.LastActivity = time.Now().UTC()
	state.MessageCount++

	if err := s.store.SaveDialogState(ctx, state); err != nil {
		slog.Warn("Failed to save dialog state", "chat_id", msg.ChatID, "error", err)
	}

	answer, err := s.agent.GetAnswer(ctx, msg.Text)
	if err != nil {
		return fmt.Errorf("generate answer: %w", err)
	}

	if _, err := s.avito.SendMessage(ctx, msg.ChatID, answer); err != nil {
		return fmt.Errorf("send reply: %w", err)
	}

	slog.Info("Message processed", "message_id", msg.MessageID, "chat_id", msg.ChatID)

	return nil
}

// recordAttempt updates the aggregate counters after one processing attempt.
func (s *Service) recordAttempt(ctx context.Context, attemptErr error) {
	s.updateStats(ctx, func(stats *store.WorkerStats) {
		stats.TotalMessages++
		if attemptErr != nil {
			stats.FailedMessages++
			stats.LastError = attemptErr.Error()
		} else {
			stats.CompletedMessages++
		}
	})
}

// updateStats overwrites the single stats record. With queued dispatch the
// poll loop and the consumer both land here, so the read-modify-write is
// serialized under statsMu. Store failures are logged and never block
// message delivery.
func (s *Service) updateStats(ctx context.Context, mutate func(*store.WorkerStats)) {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()

	stats, err := s.store.GetStats(ctx)
	if err != nil {
		slog.Warn("Failed to read stats, starting from zero", "error", err)
	}
	if stats == nil {
		stats = &store.WorkerStats{}
	}

	if count, err := s.store.ActiveDialogCount(ctx); err == nil {
		stats.ActiveDialogs = count
	} else {
		slog.Warn("Failed to count active dialogs", "error", err)
	}

	mutate(stats)

	if err := s.store.SaveStats(ctx, stats); err != nil {
		slog.Warn("Failed to save stats", "error", err)
	}
}
