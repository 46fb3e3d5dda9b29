package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/batilieri/multichat-system/internal/models"

	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

const appendAttempts = 5

// EventService owns the per-tenant event log polled by the frontend
type EventService struct {
	db        *gorm.DB
	latest    *cache.Cache
	publisher EventPublisher
}

// NewEventService builds the log. publisher may be nil.
func NewEventService(db *gorm.DB, cacheTTL time.Duration, publisher EventPublisher) *EventService {
	if cacheTTL <= 0 {
		cacheTTL = 30 * time.Second
	}
	return &EventService{
		db:        db,
		latest:    cache.New(cacheTTL, 2*cacheTTL),
		publisher: publisher,
	}
}

func latestKey(clienteID uint) string {
	return strconv.FormatUint(uint64(clienteID), 10)
}

// Append stores the next event of the tenant. Concurrent writers that pick
// the same sequence collide on the unique index and retry.
func (s *EventService) Append(clienteID uint, tipo string, chatID, mensagemID *uint, payload map[string]interface{}) (*models.ChatEvent, error) {
	var ev models.ChatEvent
	var err error
	for attempt := 0; attempt < appendAttempts; attempt++ {
		err = s.db.Transaction(func(tx *gorm.DB) error {
			var last int64
			if err := tx.Model(&models.ChatEvent{}).
				Where("cliente_id = ?", clienteID).
				Select("COALESCE(MAX(seq), 0)").
				Scan(&last).Error; err != nil {
				return err
			}
			ev = models.ChatEvent{
				ClienteID:  clienteID,
				Seq:        last + 1,
				Tipo:       tipo,
				ChatID:     chatID,
				MensagemID: mensagemID,
				Payload:    payload,
			}
			return tx.Create(&ev).Error
		})
		if !errors.Is(err, gorm.ErrDuplicatedKey) {
			break
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to append %s event: %w", tipo, err)
	}

	s.latest.SetDefault(latestKey(clienteID), ev.Seq)

	if s.publisher != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.publisher.Publish(ctx, ev); err != nil {
			log.Warn().Err(err).Uint("cliente_id", clienteID).Str("tipo", tipo).Msg("failed to publish event")
		}
	}
	return &ev, nil
}

// Latest returns the newest sequence of the tenant, 0 when empty
func (s *EventService) Latest(clienteID uint) (int64, error) {
	if v, ok := s.latest.Get(latestKey(clienteID)); ok {
		return v.(int64), nil
	}
	var last int64
	if err := s.db.Model(&models.ChatEvent{}).
		Where("cliente_id = ?", clienteID).
		Select("COALESCE(MAX(seq), 0)").
		Scan(&last).Error; err != nil {
		return 0, err
	}
	s.latest.SetDefault(latestKey(clienteID), last)
	return last, nil
}

// Since returns up to limit events after seq, and the latest sequence
func (s *EventService) Since(clienteID uint, after int64, limit int) ([]models.ChatEvent, int64, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	latest, err := s.Latest(clienteID)
	if err != nil {
		return nil, 0, err
	}
	if after >= latest {
		return []models.ChatEvent{}, latest, nil
	}

	var events []models.ChatEvent
	if err := s.db.Where("cliente_id = ? AND seq > ?", clienteID, after).
		Order("seq ASC").
		Limit(limit).
		Find(&events).Error; err != nil {
		return nil, 0, err
	}
	return events, latest, nil
}

// Prune drops events older than the retention window. The newest event of
// each tenant is kept so sequences never restart.
func (s *EventService) Prune(olderThan time.Duration) (int64, error) {
	res := s.db.Exec(`DELETE FROM chat_events WHERE created_at < ? AND seq < (
		SELECT max_seq FROM (
			SELECT cliente_id, MAX(seq) AS max_seq FROM chat_events GROUP BY cliente_id
		) AS latest WHERE latest.cliente_id = chat_events.cliente_id
	)`, time.Now().UTC().Add(-olderThan))
	return res.RowsAffected, res.Error
}
