package integrations

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"ctf-assistant/internal/core"
	"ctf-assistant/internal/models"
	"ctf-assistant/internal/modules/audit"
	"ctf-assistant/internal/storage"
)

func newService() (*Service, *storage.MemoryStore) {
	store := storage.NewMemory()
	return NewService(store, audit.NewLogger(store, zap.NewNop()), zap.NewNop()), store
}

var admin = Actor{UserID: "u1", Source: "test"}

func TestCreateNormalizesPageAndAudits(t *testing.T) {
	service, store := newService()
	ctx := context.Background()

	record, err := service.Create(ctx, admin, models.NewIntegration{
		GuildID: "g1", ChannelID: "c1", APIKey: "key", PageURL: "Trakteer.id/ctf?utm_source=x",
	})
	require.NoError(t, err)
	assert.Equal(t, "https://trakteer.id/ctf", record.PageURL)

	logs, err := store.ListAuditLogs(ctx, "g1", time.Time{})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, audit.EventIntegrationCreated, logs[0].Event)
	assert.NotContains(t, logs[0].Details, "key")
}

func TestCreateRejectsBadPage(t *testing.T) {
	service, _ := newService()
	_, err := service.Create(context.Background(), admin, models.NewIntegration{
		GuildID: "g1", ChannelID: "c1", APIKey: "key", PageURL: "ftp://nope",
	})
	var verr *core.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "page_url", verr.Field)
}

func TestUpdateAndDelete(t *testing.T) {
	service, store := newService()
	ctx := context.Background()

	record, err := service.Create(ctx, admin, models.NewIntegration{GuildID: "g1", ChannelID: "c1", APIKey: "key"})
	require.NoError(t, err)

	updated, err := service.SetActive(ctx, admin, record.HexID(), false)
	require.NoError(t, err)
	assert.False(t, updated.IsActive)

	newKey := "rotated-secret"
	_, err = service.Update(ctx, admin, record.HexID(), models.IntegrationUpdate{APIKey: &newKey})
	require.NoError(t, err)

	require.NoError(t, service.Delete(ctx, admin, record.HexID()))
	_, err = service.GetByID(ctx, record.HexID())
	assert.True(t, core.IsNotFound(err))
	assert.True(t, core.IsNotFound(service.Delete(ctx, admin, record.HexID())))

	logs, err := store.ListAuditLogs(ctx, "g1", time.Time{})
	require.NoError(t, err)
	require.Len(t, logs, 4)
	assert.Equal(t, audit.EventIntegrationDeleted, logs[0].Event)
	assert.Contains(t, logs[1].Details, "api_key=rotated")
	assert.NotContains(t, logs[1].Details, newKey)
}

func TestMarkCheckedUnknown(t *testing.T) {
	service, _ := newService()
	err := service.MarkChecked(context.Background(), "65f000000000000000000000", time.Now())
	assert.True(t, core.IsNotFound(err))
}
