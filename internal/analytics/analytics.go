package analytics

import (
	"context"
	"time"

	"ctf-assistant/internal/models"
	"ctf-assistant/internal/storage"
)

type Service struct {
	store      storage.IntegrationRepository
	staleAfter time.Duration
	now        func() time.Time
}

// New reports integrations as stale when their last check is older than
// staleAfter.
func New(store storage.IntegrationRepository, staleAfter time.Duration) *Service {
	return &Service{store: store, staleAfter: staleAfter, now: time.Now}
}

type Summary struct {
	Total        int        `json:"total"`
	Active       int        `json:"active"`
	NeverChecked int        `json:"never_checked"`
	Stale        int        `json:"stale"`
	LastChecked  *time.Time `json:"last_checked"`
}

func (s *Service) Summary(ctx context.Context, guildID string) (Summary, error) {
	records, err := s.store.ListIntegrations(ctx, models.IntegrationFilter{GuildID: guildID})
	if err != nil {
		return Summary{}, err
	}
	return Summarize(records, s.now(), s.staleAfter), nil
}

// SummaryOf summarizes records the caller already loaded.
func (s *Service) SummaryOf(records []models.DonationIntegration) Summary {
	return Summarize(records, s.now(), s.staleAfter)
}

func Summarize(records []models.DonationIntegration, now time.Time, staleAfter time.Duration) Summary {
	var summary Summary
	for _, record := range records {
		summary.Total++
		if !record.IsActive {
			continue
		}
		summary.Active++
		if record.LastChecked == nil {
			summary.NeverChecked++
			continue
		}
		if staleAfter > 0 && now.Sub(*record.LastChecked) > staleAfter {
			summary.Stale++
		}
		if summary.LastChecked == nil || record.LastChecked.After(*summary.LastChecked) {
			checked := *record.LastChecked
			summary.LastChecked = &checked
		}
	}
	return summary
}
