package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"ctf-assistant/internal/core"
	"ctf-assistant/internal/models"
)

// MemoryStore keeps everything in process. It enforces the same invariants
// as MongoStore, including one active integration per guild channel.
type MemoryStore struct {
	mu           sync.RWMutex
	integrations map[primitive.ObjectID]models.DonationIntegration
	audit        []models.AuditLog
	session      bool
	now          func() time.Time
}

func NewMemory() *MemoryStore {
	return &MemoryStore{
		integrations: make(map[primitive.ObjectID]models.DonationIntegration),
		now:          func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	s.now = now
	return s
}

// PutSessionState seeds the session document.
func (s *MemoryStore) PutSessionState() {
	s.mu.Lock()
	s.session = true
	s.mu.Unlock()
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

func (s *MemoryStore) Close(ctx context.Context) error {
	return nil
}

func (s *MemoryStore) CreateIntegration(ctx context.Context, input models.NewIntegration) (models.DonationIntegration, error) {
	if err := input.Validate(); err != nil {
		return models.DonationIntegration{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	record := input.Build(s.now())
	record.ID = primitive.NewObjectID()
	if s.activeConflict(record) {
		return models.DonationIntegration{}, errors.Wrap(core.ErrConflict, "insert integration")
	}
	s.integrations[record.ID] = record
	return clone(record), nil
}

func (s *MemoryStore) GetIntegration(ctx context.Context, guildID, channelID string) (models.DonationIntegration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var best *models.DonationIntegration
	for _, record := range s.integrations {
		if record.GuildID != guildID || record.ChannelID != channelID {
			continue
		}
		record := record
		if best == nil || preferred(record, *best) {
			best = &record
		}
	}
	if best == nil {
		return models.DonationIntegration{}, errors.Wrap(core.ErrNotFound, "get integration")
	}
	return clone(*best), nil
}

func (s *MemoryStore) GetIntegrationByID(ctx context.Context, id string) (models.DonationIntegration, error) {
	oid, err := parseID(id)
	if err != nil {
		return models.DonationIntegration{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.integrations[oid]
	if !ok {
		return models.DonationIntegration{}, errors.Wrap(core.ErrNotFound, "get integration by id")
	}
	return clone(record), nil
}

func (s *MemoryStore) ListIntegrations(ctx context.Context, filter models.IntegrationFilter) ([]models.DonationIntegration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var records []models.DonationIntegration
	for _, record := range s.integrations {
		if filter.GuildID != "" && record.GuildID != filter.GuildID {
			continue
		}
		if filter.ActiveOnly && !record.IsActive {
			continue
		}
		records = append(records, clone(record))
	}
	sort.Slice(records, func(i, j int) bool {
		if records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].ID.Hex() < records[j].ID.Hex()
		}
		return records[i].CreatedAt.Before(records[j].CreatedAt)
	})
	return records, nil
}

func (s *MemoryStore) UpdateIntegration(ctx context.Context, id string, update models.IntegrationUpdate) (models.DonationIntegration, error) {
	if err := update.Validate(); err != nil {
		return models.DonationIntegration{}, err
	}
	oid, err := parseID(id)
	if err != nil {
		return models.DonationIntegration{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.integrations[oid]
	if !ok {
		return models.DonationIntegration{}, errors.Wrap(core.ErrNotFound, "update integration")
	}
	update.Apply(&record, s.now())
	if s.activeConflict(record) {
		return models.DonationIntegration{}, errors.Wrap(core.ErrConflict, "update integration")
	}
	s.integrations[oid] = record
	return clone(record), nil
}

func (s *MemoryStore) MarkChecked(ctx context.Context, id string, at time.Time) error {
	oid, err := parseID(id)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.integrations[oid]
	if !ok {
		return errors.Wrap(core.ErrNotFound, "mark integration checked")
	}
	checked := at.UTC()
	record.LastChecked = &checked
	record.Touch(s.now())
	s.integrations[oid] = record
	return nil
}

func (s *MemoryStore) DeleteIntegration(ctx context.Context, id string) error {
	oid, err := parseID(id)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.integrations[oid]; !ok {
		return errors.Wrap(core.ErrNotFound, "delete integration")
	}
	delete(s.integrations, oid)
	return nil
}

func (s *MemoryStore) ClearSessionState(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := s.session
	s.session = false
	return removed, nil
}

func (s *MemoryStore) AddAuditLog(ctx context.Context, log models.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if log.CreatedAt.IsZero() {
		log.CreatedAt = s.now()
	}
	s.audit = append(s.audit, log)
	return nil
}

func (s *MemoryStore) ListAuditLogs(ctx context.Context, guildID string, since time.Time) ([]models.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var logs []models.AuditLog
	for i := len(s.audit) - 1; i >= 0; i-- {
		log := s.audit[i]
		if guildID != "" && log.GuildID != guildID {
			continue
		}
		if log.CreatedAt.Before(since) {
			continue
		}
		logs = append(logs, log)
	}
	return logs, nil
}

func (s *MemoryStore) activeConflict(candidate models.DonationIntegration) bool {
	if !candidate.IsActive {
		return false
	}
	for id, record := range s.integrations {
		if id == candidate.ID || !record.IsActive {
			continue
		}
		if record.GuildID == candidate.GuildID && record.ChannelID == candidate.ChannelID {
			return true
		}
	}
	return false
}

func preferred(a, b models.DonationIntegration) bool {
	if a.IsActive != b.IsActive {
		return a.IsActive
	}
	return a.UpdatedAt.After(b.UpdatedAt)
}

func clone(record models.DonationIntegration) models.DonationIntegration {
	if record.LastChecked != nil {
		checked := *record.LastChecked
		record.LastChecked = &checked
	}
	return record
}
