package monitor

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session-engine/internal/model"
)

const hubBuffer = 16

// Hub is an in-process publisher used when Redis is not configured. It
// writes the audit log and fans events out to local subscribers. A slow
// subscriber drops events rather than stalling the publishing request.
type Hub struct {
	mu    sync.Mutex
	subs  map[uuid.UUID]map[chan model.Event]struct{}
	log   zerolog.Logger
	audit zerolog.Logger
}

// NewHub creates a new Hub.
func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		subs:  make(map[uuid.UUID]map[chan model.Event]struct{}),
		log:   log.With().Str("component", "monitor_hub").Logger(),
		audit: log.With().Str("component", "audit").Logger(),
	}
}

// Publish implements service.EventPublisher.
func (h *Hub) Publish(_ context.Context, ev model.Event) {
	logEvent(h.audit, ev)

	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs[ev.ExamID] {
		select {
		case ch <- ev:
		default:
			h.log.Warn().Str("exam_id", ev.ExamID.String()).Str("type", string(ev.Type)).Msg("Subscriber lagging, event dropped")
		}
	}
}

// Subscribe implements Subscriber.
func (h *Hub) Subscribe(ctx context.Context, examID uuid.UUID) (<-chan model.Event, func(), error) {
	ch := make(chan model.Event, hubBuffer)

	h.mu.Lock()
	if h.subs[examID] == nil {
		h.subs[examID] = make(map[chan model.Event]struct{})
	}
	h.subs[examID][ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs[examID], ch)
			if len(h.subs[examID]) == 0 {
				delete(h.subs, examID)
			}
			close(ch)
			h.mu.Unlock()
		})
	}
	go func() {
		<-ctx.Done()
		cancel()
	}()
	return ch, cancel, nil
}
