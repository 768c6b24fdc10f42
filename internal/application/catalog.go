package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"xiaoi/internal/domain"
)

// Catalog lists the account's speakers by merging both vendor listings.
type Catalog struct {
	opener CatalogOpener
	logger *slog.Logger
}

func NewCatalog(opener CatalogOpener, logger *slog.Logger) *Catalog {
	return &Catalog{
		opener: opener,
		logger: logger,
	}
}

// List fetches both listings concurrently on fresh handles. A failing
// sub-API contributes nothing; List only fails when both do.
func (c *Catalog) List(ctx context.Context, cfg domain.SpeakerConfig) ([]domain.Device, error) {
	if !cfg.HasCredentials() {
		return nil, &domain.ConfigError{Field: "speaker", Err: domain.ErrMissingCredentials}
	}

	var (
		wg      sync.WaitGroup
		mina    []domain.MiNADevice
		miot    []domain.MIoTDevice
		minaErr error
		miotErr error
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		mina, minaErr = c.listMiNA(ctx, cfg)
	}()
	go func() {
		defer wg.Done()
		miot, miotErr = c.listMIoT(ctx, cfg)
	}()
	wg.Wait()

	if minaErr != nil && miotErr != nil {
		return nil, fmt.Errorf("listing devices: %w", errors.Join(minaErr, miotErr))
	}
	if minaErr != nil {
		c.logger.Warn("MiNA device listing failed, continuing without it", "error", minaErr)
	}
	if miotErr != nil {
		c.logger.Warn("MIoT device listing failed, continuing without it", "error", miotErr)
	}

	devices := MergeDevices(mina, miot)
	c.logger.Debug("device listing merged",
		"mina", len(mina),
		"miot", len(miot),
		"devices", len(devices),
	)
	return devices, nil
}

func (c *Catalog) listMiNA(ctx context.Context, cfg domain.SpeakerConfig) ([]domain.MiNADevice, error) {
	lister, err := c.opener.OpenMiNA(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("opening MiNA: %w", err)
	}
	devices, err := lister.ListMiNADevices(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing MiNA devices: %w", err)
	}
	return devices, nil
}

func (c *Catalog) listMIoT(ctx context.Context, cfg domain.SpeakerConfig) ([]domain.MIoTDevice, error) {
	lister, err := c.opener.OpenMIoT(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("opening MIoT: %w", err)
	}
	devices, err := lister.ListMIoTDevices(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing MIoT devices: %w", err)
	}
	return devices, nil
}

func NormalizeMiNADevice(raw domain.MiNADevice) domain.Device {
	online := domain.OnlineUnknown
	switch strings.ToLower(strings.TrimSpace(raw.Presence)) {
	case "online":
		online = domain.OnlineYes
	case "offline":
		online = domain.OnlineNo
	}

	did := strings.TrimSpace(raw.MiotDID)
	if did == "" {
		did = strings.TrimSpace(raw.DeviceID)
	}

	return domain.Device{
		DID:     did,
		Name:    strings.TrimSpace(raw.Name),
		Alias:   strings.TrimSpace(raw.Alias),
		Model:   strings.TrimSpace(raw.Hardware),
		MAC:     normalizeMAC(raw.MAC),
		Online:  online,
		Sources: []domain.DeviceSource{domain.DeviceSourceMiNA},
	}
}

func NormalizeMIoTDevice(raw domain.MIoTDevice) domain.Device {
	online := domain.OnlineNo
	if raw.IsOnline {
		online = domain.OnlineYes
	}
	return domain.Device{
		DID:     strings.TrimSpace(raw.DID),
		Name:    strings.TrimSpace(raw.Name),
		Model:   strings.TrimSpace(raw.Model),
		MAC:     normalizeMAC(raw.MAC),
		Online:  online,
		Sources: []domain.DeviceSource{domain.DeviceSourceMIoT},
	}
}

// MergeDevices folds both listings into one record per physical device.
// Records are matched by DID, then by MAC, in encounter order (MiNA first).
// Only the MIoT model overwrites an existing value; every other field is
// filled only when still empty or unknown. Rows with neither DID nor name
// are dropped and the result is ordered online first, then by name.
func MergeDevices(mina []domain.MiNADevice, miot []domain.MIoTDevice) []domain.Device {
	var rows []*domain.Device
	byDID := make(map[string]*domain.Device)
	byMAC := make(map[string]*domain.Device)

	upsert := func(d domain.Device, authoritativeModel bool) {
		var row *domain.Device
		if d.DID != "" {
			row = byDID[d.DID]
		}
		if row == nil && d.MAC != "" {
			row = byMAC[d.MAC]
		}

		if row == nil {
			row = &d
			rows = append(rows, row)
		} else {
			fillDevice(row, d, authoritativeModel)
		}

		if row.DID != "" {
			byDID[row.DID] = row
		}
		if row.MAC != "" {
			byMAC[row.MAC] = row
		}
	}

	for _, raw := range mina {
		upsert(NormalizeMiNADevice(raw), false)
	}
	for _, raw := range miot {
		upsert(NormalizeMIoTDevice(raw), true)
	}

	devices := make([]domain.Device, 0, len(rows))
	for _, row := range rows {
		if row.DID == "" && row.Name == "" {
			continue
		}
		devices = append(devices, *row)
	}

	SortDevices(devices)
	return devices
}

func fillDevice(row *domain.Device, d domain.Device, authoritativeModel bool) {
	if row.Name == "" {
		row.Name = d.Name
	}
	if row.Alias == "" {
		row.Alias = d.Alias
	}
	if d.Model != "" && (authoritativeModel || row.Model == "") {
		row.Model = d.Model
	}
	if row.Online == domain.OnlineUnknown {
		row.Online = d.Online
	}
	if row.DID == "" {
		row.DID = d.DID
	}
	if row.MAC == "" {
		row.MAC = d.MAC
	}
	for _, src := range d.Sources {
		if !row.HasSource(src) {
			row.Sources = append(row.Sources, src)
		}
	}
}

// SortDevices orders devices online first, then by name using Chinese
// collation.
func SortDevices(devices []domain.Device) {
	col := collate.New(language.Chinese)
	slices.SortStableFunc(devices, func(a, b domain.Device) int {
		aOnline := a.Online == domain.OnlineYes
		bOnline := b.Online == domain.OnlineYes
		if aOnline != bOnline {
			if aOnline {
				return -1
			}
			return 1
		}
		return col.CompareString(a.Name, b.Name)
	})
}

func normalizeMAC(mac string) string {
	return strings.ToUpper(strings.TrimSpace(mac))
}
