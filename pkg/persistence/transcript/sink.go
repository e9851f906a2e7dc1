package transcript

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/itinerary/pkg/chat"
)

// Sink persists the conversation whenever a turn completes or fails.
type Sink struct {
	store   *Store
	timeout time.Duration
}

var _ chat.EventSink = &Sink{}

func NewSink(store *Store) *Sink {
	return &Sink{store: store, timeout: 5 * time.Second}
}

func (s *Sink) PublishEvent(e chat.Event) error {
	if e.Type != chat.EventTurnCompleted && e.Type != chat.EventError {
		return nil
	}
	snap := Snapshot{
		ConvID:    e.ConvID,
		SessionID: e.SessionID,
		Profile:   e.Profile,
		State:     e.State,
		History:   e.History,
		UpdatedAt: e.Time,
	}
	if e.Error != nil {
		snap.LastError = e.Error.Message
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if err := s.store.Save(ctx, snap); err != nil {
		return err
	}
	log.Debug().Str("component", "transcript").Str("conv_id", e.ConvID).Int("messages", len(e.History)).Msg("transcript saved")
	return nil
}
