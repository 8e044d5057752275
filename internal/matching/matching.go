package matching

import (
	"sort"
	"time"

	"github.com/freightmatch/freight-api/internal/types"
	"github.com/freightmatch/freight-api/pkg/response"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// Publisher fans a typed event out to a room's current subscribers.
// Implemented by the realtime hub.
type Publisher interface {
	Publish(roomID, eventType, entityID, batchID string, payload interface{}) (int64, error)
}

// Service ranks the active carrier set against posted loads
type Service struct {
	db *Database
}

// NewService creates a new matching service with the given database connection
func NewService(gormDB *gorm.DB) *Service {
	return &Service{
		db: NewDatabase(gormDB),
	}
}

// Ranking is a finite, non-restartable cursor over scored candidates in
// descending score order, ties broken by ascending carrier id. Candidates
// are computed fresh per call and never cached across loads.
type Ranking struct {
	candidates []types.MatchCandidate
	pos        int
}

// Next returns the next candidate, or false once the ranking is exhausted.
func (r *Ranking) Next() (*types.MatchCandidate, bool) {
	if r.pos >= len(r.candidates) {
		return nil, false
	}
	c := &r.candidates[r.pos]
	r.pos++
	return c, true
}

// Remaining reports how many candidates have not yet been consumed.
func (r *Ranking) Remaining() int {
	return len(r.candidates) - r.pos
}

// Drain consumes the rest of the ranking into a slice.
func (r *Ranking) Drain() []types.MatchCandidate {
	rest := r.candidates[r.pos:]
	r.pos = len(r.candidates)
	return rest
}

// Rank scores every active carrier against the load and returns the ordered
// candidate cursor. The carrier set is pulled once per call; scaling very
// large pools is the caller's concern.
func (s *Service) Rank(loadID string) (*Ranking, error) {
	logger := log.With().
		Str("load_id", loadID).
		Str("service", "matching").
		Logger()

	load, err := s.db.GetLoad(loadID)
	if err != nil {
		logger.Error().Err(err).Msg("failed to fetch load")
		return nil, err
	}
	if load == nil {
		return nil, types.ErrNotFound
	}

	carriers, err := s.db.GetActiveCarriers()
	if err != nil {
		logger.Error().Err(err).Msg("failed to fetch active carriers")
		return nil, err
	}

	candidates := make([]types.MatchCandidate, 0, len(carriers))
	for i := range carriers {
		score, reasons := Score(load, &carriers[i])
		tags := make([]string, len(reasons))
		for j, r := range reasons {
			tags[j] = string(r)
		}
		candidates = append(candidates, types.MatchCandidate{
			CarrierID: carriers[i].CarrierID,
			Score:     score,
			Reasons:   tags,
		})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		return candidates[i].CarrierID < candidates[j].CarrierID
	})

	logger.Info().
		Int("carriers_scored", len(candidates)).
		Msg("ranked candidates for load")

	return &Ranking{candidates: candidates}, nil
}

// GetLoadOwner returns the shipper that owns the load.
func (s *Service) GetLoadOwner(loadID string) (string, error) {
	load, err := s.db.GetLoad(loadID)
	if err != nil {
		return "", err
	}
	if load == nil {
		return "", types.ErrNotFound
	}
	return load.ShipperID, nil
}

// GinHandlers contains HTTP handlers for matching endpoints
type GinHandlers struct {
	service   *Service
	publisher Publisher
}

// NewGinHandlers creates a new set of HTTP handlers for matching endpoints
func NewGinHandlers(service *Service, publisher Publisher) *GinHandlers {
	return &GinHandlers{
		service:   service,
		publisher: publisher,
	}
}

// RankMatchesHandler handles POST requests to rank candidate carriers for a
// load. Only the posting shipper may request a ranking; the result is also
// pushed to the load's room as a match.ranked event.
func (h *GinHandlers) RankMatchesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		loadID := c.Param("load_id")

		owner, err := h.service.GetLoadOwner(loadID)
		if err != nil {
			response.Handle(c, nil, err)
			return
		}
		if owner != c.GetString("userID") {
			response.Handle(c, nil, types.ErrForbidden)
			return
		}

		ranking, err := h.service.Rank(loadID)
		if err != nil {
			response.Handle(c, nil, err)
			return
		}

		candidates := ranking.Drain()
		if _, err := h.publisher.Publish(types.LoadRoom(loadID), types.EventMatchRanked, loadID, "", types.MatchRankedPayload{
			LoadID:     loadID,
			Candidates: candidates,
		}); err != nil {
			log.Error().Err(err).Str("load_id", loadID).Msg("failed to broadcast match ranking")
		}

		response.Success(c, types.RankResponse{
			LoadID:     loadID,
			Candidates: candidates,
			RankedAt:   time.Now(),
		})
	}
}
