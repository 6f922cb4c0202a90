package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"ctf-assistant/internal/models"
	"ctf-assistant/internal/platform"
)

type sentEmbed struct {
	channelID string
	embed     *discordgo.MessageEmbed
}

type fakeSender struct {
	sent   []sentEmbed
	failAt int
}

func (f *fakeSender) SendEmbed(channelID string, embed *discordgo.MessageEmbed) error {
	if f.failAt > 0 && len(f.sent)+1 == f.failAt {
		return errors.New("missing access")
	}
	f.sent = append(f.sent, sentEmbed{channelID: channelID, embed: embed})
	return nil
}

func supports(n int) []platform.Support {
	out := make([]platform.Support, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, platform.Support{SupporterName: string(rune('a' + i)), Amount: decimal.NewFromInt(10000), Quantity: 1, UnitName: "Kopi"})
	}
	return out
}

func TestDispatchSendsOneEmbedPerSupport(t *testing.T) {
	sender := &fakeSender{}
	dispatcher := NewDispatcher(Config{Currency: "Rp", BurstLimit: 5, BurstWindow: time.Second}, sender, zap.NewNop())
	integration := models.DonationIntegration{ChannelID: "c1", PageURL: "https://trakteer.id/ctf"}

	require.NoError(t, dispatcher.Dispatch(context.Background(), integration, supports(2)))
	require.Len(t, sender.sent, 2)
	assert.Equal(t, "c1", sender.sent[0].channelID)
	assert.Equal(t, "a just donated!", sender.sent[0].embed.Title)
	assert.Equal(t, "Rp 10,000", sender.sent[0].embed.Fields[0].Value)
	assert.Equal(t, "https://trakteer.id/ctf", sender.sent[0].embed.URL)
}

func TestDispatchFoldsBurstIntoSummary(t *testing.T) {
	sender := &fakeSender{}
	dispatcher := NewDispatcher(Config{Currency: "Rp", BurstLimit: 2, BurstWindow: time.Minute}, sender, zap.NewNop())
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	dispatcher.now = func() time.Time { return now }

	require.NoError(t, dispatcher.Dispatch(context.Background(), models.DonationIntegration{ChannelID: "c1"}, supports(5)))
	require.Len(t, sender.sent, 3)
	assert.Equal(t, "More donations arrived", sender.sent[2].embed.Title)
	assert.Contains(t, sender.sent[2].embed.Description, "3 more donations totalling Rp 30,000")
	assert.Contains(t, sender.sent[2].embed.Description, "c, d, e")
}

func TestDispatchStopsOnSendError(t *testing.T) {
	sender := &fakeSender{failAt: 2}
	dispatcher := NewDispatcher(Config{BurstLimit: 10, BurstWindow: time.Second}, sender, zap.NewNop())

	err := dispatcher.Dispatch(context.Background(), models.DonationIntegration{ChannelID: "c1"}, supports(3))
	require.Error(t, err)
	assert.Len(t, sender.sent, 1)
}

func TestSupportEmbedSkipsEmptyMessage(t *testing.T) {
	dispatcher := NewDispatcher(Config{}, &fakeSender{}, zap.NewNop())
	embed := dispatcher.SupportEmbed(models.DonationIntegration{}, platform.Support{Amount: decimal.NewFromInt(5000)})
	assert.Equal(t, "Someone just donated!", embed.Title)
	assert.Len(t, embed.Fields, 1)
	assert.Empty(t, embed.Timestamp)
}
