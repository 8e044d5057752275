package negotiation

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Processor drives the time-based quote expiry sweep. It is the external
// timer collaborator for the expire transition; nothing inside the engine
// blocks waiting on quote deadlines.
type Processor struct {
	service       *Service
	sweepInterval time.Duration
}

func NewProcessor(service *Service, sweepInterval time.Duration) *Processor {
	if sweepInterval <= 0 {
		sweepInterval = time.Minute
	}
	return &Processor{
		service:       service,
		sweepInterval: sweepInterval,
	}
}

// Start begins the expiry sweep loop
func (p *Processor) Start(ctx context.Context) {
	logger := log.With().Str("component", "quote_expirer").Logger()
	logger.Info().Dur("interval", p.sweepInterval).Msg("starting quote expiry processor")

	ticker := time.NewTicker(p.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("shutting down quote expiry processor")
			return
		case <-ticker.C:
			expired, err := p.service.ExpireDueQuotes(time.Now())
			if err != nil {
				logger.Error().Err(err).Msg("failed to run expiry sweep")
				continue
			}
			if expired > 0 {
				logger.Info().Int("expired_count", expired).Msg("expired overdue quotes")
			}
		}
	}
}
