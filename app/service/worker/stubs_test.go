package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Filichkin/AV-ASSISTANT/app/client/avito"
	"github.com/Filichkin/AV-ASSISTANT/app/config"
	"github.com/Filichkin/AV-ASSISTANT/app/service/store"
)

// recorder keeps the order of externally visible actions so tests can assert
// sequencing (acknowledge before generate, generate before send). Safe for
// use from the queued consumer goroutine.
type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) add(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, fmt.Sprintf(format, args...))
}

func (r *recorder) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

type stubSource struct {
	mu  sync.Mutex
	rec *recorder

	chats    []avito.Chat
	chatsErr error

	messages    map[string][]avito.Message
	messagesErr error

	sendErr error
	sent    []string // "chatID|text"
	read    []string
}

func (s *stubSource) GetUnreadChats(context.Context) ([]avito.Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.chatsErr != nil {
		return nil, s.chatsErr
	}
	return s.chats, nil
}

func (s *stubSource) GetMessages(_ context.Context, chatID string, _ int) ([]avito.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.messagesErr != nil {
		return nil, s.messagesErr
	}
	return s.messages[chatID], nil
}

func (s *stubSource) SendMessage(_ context.Context, chatID, text string) (*avito.SentMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sendErr != nil {
		return nil, s.sendErr
	}
	s.sent = append(s.sent, chatID+"|"+text)
	s.rec.add("send:%s", chatID)
	return &avito.SentMessage{ID: "sent"}, nil
}

func (s *stubSource) MarkChatRead(_ context.Context, chatID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.read = append(s.read, chatID)
	s.rec.add("read:%s", chatID)
	return true
}

func (s *stubSource) sentMessages() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.sent...)
}

type stubAgent struct {
	mu  sync.Mutex
	rec *recorder

	answer string
	errFor map[string]error // per user text
	asked  []string
}

func (a *stubAgent) GetAnswer(_ context.Context, userText string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.asked = append(a.asked, userText)
	a.rec.add("answer:%s", userText)

	if err := a.errFor[userText]; err != nil {
		return "", err
	}
	return a.answer, nil
}

type dialogRecord struct {
	state   store.DialogState
	expires time.Time
}

// memStore mimics the Redis-backed store including TTL expiry, driven by a
// test-controlled clock.
type memStore struct {
	mu  sync.Mutex
	now func() time.Time
	ttl time.Duration

	dialogs  map[string]dialogRecord
	stats    store.WorkerStats
	hasStats bool

	queue      []string
	processing []string
	payloads   map[string]store.QueuedMessage
	completed  []string
	failed     []string

	dialogReadErr error
	dialogSaveErr error
	statsErr      error
	statsNil      bool
	enqueueErr    error
}

func newMemStore(ttl time.Duration) *memStore {
	base := time.Now()
	return &memStore{
		now:      func() time.Time { return base },
		ttl:      ttl,
		dialogs:  map[string]dialogRecord{},
		payloads: map[string]store.QueuedMessage{},
	}
}

func (m *memStore) GetDialogState(_ context.Context, chatID string) (*store.DialogState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.dialogReadErr != nil {
		return nil, m.dialogReadErr
	}

	rec, ok := m.dialogs[chatID]
	if !ok || m.now().After(rec.expires) {
		return nil, nil
	}

	state := rec.state
	return &state, nil
}

func (m *memStore) SaveDialogState(_ context.Context, state *store.DialogState) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.dialogSaveErr != nil {
		return m.dialogSaveErr
	}

	m.dialogs[state.ChatID] = dialogRecord{
		state:   *state,
		expires: m.now().Add(m.ttl),
	}
	return nil
}

func (m *memStore) ActiveDialogCount(context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := 0
	for _, rec := range m.dialogs {
		if !m.now().After(rec.expires) {
			count++
		}
	}
	return count, nil
}

func (m *memStore) GetStats(context.Context) (*store.WorkerStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.statsNil {
		return nil, nil
	}
	if m.statsErr != nil {
		return &store.WorkerStats{}, m.statsErr
	}

	stats := m.stats
	return &stats, nil
}

func (m *memStore) SaveStats(_ context.Context, stats *store.WorkerStats) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.statsErr != nil {
		return m.statsErr
	}

	m.stats = *stats
	m.hasStats = true
	return nil
}

func (m *memStore) EnqueueMessage(_ context.Context, msg *store.QueuedMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.enqueueErr != nil {
		return m.enqueueErr
	}

	m.payloads[msg.MessageID] = *msg
	m.queue = append(m.queue, msg.MessageID)
	return nil
}

func (m *memStore) DequeueMessage(context.Context) (*store.QueuedMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.queue) == 0 {
		return nil, nil
	}

	id := m.queue[0]
	m.queue = m.queue[1:]
	m.processing = append(m.processing, id)

	msg, ok := m.payloads[id]
	if !ok {
		return nil, nil
	}

	msg.Status = store.StatusProcessing
	return &msg, nil
}

func (m *memStore) CompleteMessage(_ context.Context, messageID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.removeProcessing(messageID)
	m.completed = append(m.completed, messageID)
	return nil
}

func (m *memStore) FailMessage(_ context.Context, messageID, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.removeProcessing(messageID)
	m.failed = append(m.failed, messageID)
	return nil
}

func (m *memStore) removeProcessing(messageID string) {
	for i, id := range m.processing {
		if id == messageID {
			m.processing = append(m.processing[:i], m.processing[i+1:]...)
			return
		}
	}
}

func (m *memStore) currentStats() store.WorkerStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

func (m *memStore) completedIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.completed...)
}

func (m *memStore) failedIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.failed...)
}

var errBoom = errors.New("boom")

func newTestService(dispatch string, src *stubSource, ag *stubAgent, st *memStore) *Service {
	s := &Service{
		cfg: &config.Config{
			Worker: config.Worker{
				PollInterval:      time.Hour,
				MessageFetchLimit: 5,
				Dispatch:          dispatch,
			},
		},
		avito: src,
		agent: ag,
		store: st,
	}

	if dispatch == "queued" {
		s.dispatcher = newQueuedDispatcher(s)
	} else {
		s.dispatcher = newInlineDispatcher(s)
	}

	return s
}
