package application

import (
	"context"

	"xiaoi/internal/domain"
)

// SpeakRequest carries either Text (spoken by the speaker's own engine) or
// URL (an audio resource to play). Exactly one is set.
type SpeakRequest struct {
	Text string
	URL  string
}

// VendorClient is the speaker session the core drives. Init binds it to one
// device; every other call targets the bound device. Results are the raw
// vendor payloads; a nil or zero result is treated as failure by the core.
type VendorClient interface {
	Init(ctx context.Context, cfg domain.SpeakerConfig) error
	BoundModel() string
	Speak(ctx context.Context, req SpeakRequest) (any, error)
	SetVolume(ctx context.Context, volume int) (any, error)
	DoAction(ctx context.Context, siid, aiid int, params any) (any, error)
	GetProperty(ctx context.Context, siid, piid int) (any, error)
}

type MiNALister interface {
	ListMiNADevices(ctx context.Context) ([]domain.MiNADevice, error)
}

type MIoTLister interface {
	ListMIoTDevices(ctx context.Context) ([]domain.MIoTDevice, error)
}

// CatalogOpener hands out short-lived listing handles, independent of the
// bound VendorClient session.
type CatalogOpener interface {
	OpenMiNA(ctx context.Context, cfg domain.SpeakerConfig) (MiNALister, error)
	OpenMIoT(ctx context.Context, cfg domain.SpeakerConfig) (MIoTLister, error)
}
