package application_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xiaoi/internal/application"
	"xiaoi/internal/domain"
)

type mockOpener struct {
	mina    []domain.MiNADevice
	miot    []domain.MIoTDevice
	minaErr error
	miotErr error
}

func (m *mockOpener) OpenMiNA(_ context.Context, _ domain.SpeakerConfig) (application.MiNALister, error) {
	return m, nil
}

func (m *mockOpener) OpenMIoT(_ context.Context, _ domain.SpeakerConfig) (application.MIoTLister, error) {
	if m.miotErr != nil {
		return nil, m.miotErr
	}
	return m, nil
}

func (m *mockOpener) ListMiNADevices(_ context.Context) ([]domain.MiNADevice, error) {
	return m.mina, m.minaErr
}

func (m *mockOpener) ListMIoTDevices(_ context.Context) ([]domain.MIoTDevice, error) {
	return m.miot, nil
}

var testCreds = domain.SpeakerConfig{UserID: "123", PassToken: "token"}

func TestMergeDevices_ByDID(t *testing.T) {
	devices := application.MergeDevices(
		[]domain.MiNADevice{{MiotDID: "1001", Name: "Living Room", Alias: "living", Presence: "Online", Hardware: "LX06"}},
		[]domain.MIoTDevice{{DID: "1001", Name: "other name", Model: "xiaomi.wifispeaker.lx06", IsOnline: false}},
	)

	require.Len(t, devices, 1)
	d := devices[0]
	assert.Equal(t, "1001", d.DID)
	assert.Equal(t, "Living Room", d.Name)
	assert.Equal(t, "living", d.Alias)
	assert.Equal(t, "xiaomi.wifispeaker.lx06", d.Model)
	assert.Equal(t, domain.OnlineYes, d.Online)
	assert.Equal(t, []domain.DeviceSource{domain.DeviceSourceMiNA, domain.DeviceSourceMIoT}, d.Sources)
}

func TestMergeDevices_ByMACWhenDIDMissing(t *testing.T) {
	devices := application.MergeDevices(
		[]domain.MiNADevice{{Name: "Kitchen", MAC: "aa:bb:cc:dd:ee:ff", Presence: "unknown"}},
		[]domain.MIoTDevice{{DID: "2002", MAC: "AA:BB:CC:DD:EE:FF", Model: "l05b", IsOnline: true}},
	)

	require.Len(t, devices, 1)
	assert.Equal(t, "2002", devices[0].DID)
	assert.Equal(t, "Kitchen", devices[0].Name)
	assert.Equal(t, domain.OnlineYes, devices[0].Online)
	assert.Equal(t, "l05b", devices[0].Model)
}

func TestMergeDevices_DropsAnonymousRows(t *testing.T) {
	devices := application.MergeDevices(
		[]domain.MiNADevice{{MAC: "11:22:33:44:55:66"}},
		[]domain.MIoTDevice{{DID: "3003", Name: "Bedroom"}},
	)

	require.Len(t, devices, 1)
	assert.Equal(t, "3003", devices[0].DID)
}

func TestMergeDevices_OnlineFirstThenName(t *testing.T) {
	devices := application.MergeDevices(nil, []domain.MIoTDevice{
		{DID: "1", Name: "Beta", IsOnline: false},
		{DID: "2", Name: "Zulu", IsOnline: true},
		{DID: "3", Name: "Alpha", IsOnline: false},
		{DID: "4", Name: "Echo", IsOnline: true},
	})

	names := make([]string, 0, len(devices))
	for _, d := range devices {
		names = append(names, d.Name)
	}
	assert.Equal(t, []string{"Echo", "Zulu", "Alpha", "Beta"}, names)
}

func TestMergeDevices_ChineseCollation(t *testing.T) {
	devices := application.MergeDevices(nil, []domain.MIoTDevice{
		{DID: "1", Name: "卧室"},
		{DID: "2", Name: "客厅"},
		{DID: "3", Name: "厨房"},
	})

	names := []string{devices[0].Name, devices[1].Name, devices[2].Name}
	assert.Equal(t, []string{"厨房", "客厅", "卧室"}, names)
}

func TestCatalog_DegradesFailingSubAPI(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	opener := &mockOpener{
		minaErr: errors.New("mina down"),
		miot:    []domain.MIoTDevice{{DID: "1", Name: "Speaker", IsOnline: true}},
	}

	devices, err := application.NewCatalog(opener, logger).List(context.Background(), testCreds)
	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.Equal(t, []domain.DeviceSource{domain.DeviceSourceMIoT}, devices[0].Sources)
}

func TestCatalog_FailsWhenBothSubAPIsFail(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	opener := &mockOpener{
		minaErr: errors.New("mina down"),
		miotErr: errors.New("miot down"),
	}

	_, err := application.NewCatalog(opener, logger).List(context.Background(), testCreds)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mina down")
	assert.Contains(t, err.Error(), "miot down")
}

func TestCatalog_RequiresCredentials(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	_, err := application.NewCatalog(&mockOpener{}, logger).List(context.Background(), domain.SpeakerConfig{UserID: "123"})

	var cfgErr *domain.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.ErrorIs(t, err, domain.ErrMissingCredentials)
}
