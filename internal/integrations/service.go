// Package integrations implements the admin lifecycle of donation
// integrations on top of the repository.
package integrations

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"ctf-assistant/internal/core"
	"ctf-assistant/internal/models"
	"ctf-assistant/internal/modules/audit"
	"ctf-assistant/internal/storage"
	"ctf-assistant/internal/utils"
)

// Actor identifies who performed an admin action, for the audit trail.
type Actor struct {
	UserID string
	Source string
}

type Service struct {
	repo   storage.IntegrationRepository
	audit  *audit.Logger
	logger *zap.Logger
}

func NewService(repo storage.IntegrationRepository, auditLogger *audit.Logger, logger *zap.Logger) *Service {
	return &Service{repo: repo, audit: auditLogger, logger: logger}
}

func (s *Service) Create(ctx context.Context, actor Actor, input models.NewIntegration) (models.DonationIntegration, error) {
	if err := input.Validate(); err != nil {
		return models.DonationIntegration{}, err
	}
	page, err := normalizePage(input.PageURL)
	if err != nil {
		return models.DonationIntegration{}, err
	}
	input.PageURL = page

	record, err := s.repo.CreateIntegration(ctx, input)
	if err != nil {
		return models.DonationIntegration{}, errors.Wrap(err, "create integration")
	}
	s.record(ctx, actor, record, audit.EventIntegrationCreated, "")
	s.logger.Info("integration created", zap.Object("integration", record), zap.String("source", actor.Source))
	return record, nil
}

func (s *Service) Get(ctx context.Context, guildID, channelID string) (models.DonationIntegration, error) {
	record, err := s.repo.GetIntegration(ctx, guildID, channelID)
	if err != nil {
		return models.DonationIntegration{}, errors.Wrap(err, "get integration")
	}
	return record, nil
}

func (s *Service) GetByID(ctx context.Context, id string) (models.DonationIntegration, error) {
	record, err := s.repo.GetIntegrationByID(ctx, id)
	if err != nil {
		return models.DonationIntegration{}, errors.Wrap(err, "get integration")
	}
	return record, nil
}

func (s *Service) List(ctx context.Context, filter models.IntegrationFilter) ([]models.DonationIntegration, error) {
	records, err := s.repo.ListIntegrations(ctx, filter)
	if err != nil {
		return nil, errors.Wrap(err, "list integrations")
	}
	return records, nil
}

func (s *Service) Update(ctx context.Context, actor Actor, id string, update models.IntegrationUpdate) (models.DonationIntegration, error) {
	if err := update.Validate(); err != nil {
		return models.DonationIntegration{}, err
	}
	if update.PageURL != nil {
		page, err := normalizePage(*update.PageURL)
		if err != nil {
			return models.DonationIntegration{}, err
		}
		update.PageURL = &page
	}

	record, err := s.repo.UpdateIntegration(ctx, id, update)
	if err != nil {
		return models.DonationIntegration{}, errors.Wrap(err, "update integration")
	}
	s.record(ctx, actor, record, audit.EventIntegrationUpdated, describeUpdate(update))
	return record, nil
}

func (s *Service) SetActive(ctx context.Context, actor Actor, id string, active bool) (models.DonationIntegration, error) {
	return s.Update(ctx, actor, id, models.IntegrationUpdate{IsActive: &active})
}

// Delete is irreversible. Callers obtain explicit confirmation first.
func (s *Service) Delete(ctx context.Context, actor Actor, id string) error {
	record, err := s.repo.GetIntegrationByID(ctx, id)
	if err != nil {
		return errors.Wrap(err, "delete integration")
	}
	if err := s.repo.DeleteIntegration(ctx, id); err != nil {
		return errors.Wrap(err, "delete integration")
	}
	s.record(ctx, actor, record, audit.EventIntegrationDeleted, "")
	s.logger.Info("integration deleted", zap.Object("integration", record), zap.String("source", actor.Source))
	return nil
}

// MarkChecked advances the polling checkpoint.
func (s *Service) MarkChecked(ctx context.Context, id string, at time.Time) error {
	if err := s.repo.MarkChecked(ctx, id, at); err != nil {
		return errors.Wrap(err, "mark integration checked")
	}
	return nil
}

func (s *Service) ListActive(ctx context.Context) ([]models.DonationIntegration, error) {
	return s.List(ctx, models.IntegrationFilter{ActiveOnly: true})
}

func (s *Service) record(ctx context.Context, actor Actor, record models.DonationIntegration, event, extra string) {
	if s.audit == nil {
		return
	}
	details := fmt.Sprintf("id=%s channel=%s source=%s", record.HexID(), record.ChannelID, actor.Source)
	if extra != "" {
		details += " " + extra
	}
	s.audit.Log(ctx, audit.LevelInfo, record.GuildID, actor.UserID, event, details)
}

func describeUpdate(update models.IntegrationUpdate) string {
	var parts []string
	if update.IsActive != nil {
		parts = append(parts, fmt.Sprintf("is_active=%t", *update.IsActive))
	}
	if update.PageURL != nil {
		parts = append(parts, "page_url="+*update.PageURL)
	}
	if update.APIKey != nil {
		parts = append(parts, "api_key=rotated")
	}
	return strings.Join(parts, " ")
}

func normalizePage(raw string) (string, error) {
	page, err := utils.NormalizePageURL(raw)
	if err != nil {
		return "", &core.ValidationError{Field: "page_url", Reason: err.Error()}
	}
	return page, nil
}
