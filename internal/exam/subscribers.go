package exam

import (
	"context"

	"github.com/pop8234333/exam-system/internal/events"
)

// Subscriber registers event handlers.
type Subscriber interface {
	Subscribe(ctx context.Context, topic string, h events.Handler) error
}

// Subscribe attaches the service's event handlers: started attempts bump
// the paper's popularity counter. Leaderboards are invalidated directly by
// SubmitAnswers and RemoveAttempt.
func (s *Service) Subscribe(ctx context.Context, sub Subscriber) error {
	return sub.Subscribe(ctx, events.TopicAttemptStarted, func(ctx context.Context, ev events.AttemptEvent) error {
		if !s.popularity.Available() {
			return nil
		}
		_, err := s.popularity.Bump(ctx, ev.PaperID)
		return err
	})
}
