package mi

import (
	"context"

	"xiaoi/internal/application"
	"xiaoi/internal/domain"
)

// Opener creates unbound clients for device listing, one per call, so a
// listing never disturbs the session of the bound speaker.
type Opener struct {
	sessionDir string
	minaURL    string
	miotURL    string
}

func NewOpener(sessionDir string) *Opener {
	return NewOpenerWithURL(sessionDir, defaultMiNAURL, defaultMIoTURL)
}

func NewOpenerWithURL(sessionDir, minaURL, miotURL string) *Opener {
	return &Opener{sessionDir: sessionDir, minaURL: minaURL, miotURL: miotURL}
}

func (o *Opener) OpenMiNA(_ context.Context, cfg domain.SpeakerConfig) (application.MiNALister, error) {
	return o.open(serviceMiNA, cfg)
}

func (o *Opener) OpenMIoT(_ context.Context, cfg domain.SpeakerConfig) (application.MIoTLister, error) {
	return o.open(serviceMIoT, cfg)
}

func (o *Opener) open(service string, cfg domain.SpeakerConfig) (*Client, error) {
	session, err := LoadSession(o.sessionDir)
	if err != nil {
		return nil, err
	}
	acc, err := session.account(service, cfg.UserID)
	if err != nil {
		return nil, err
	}

	c := NewClientWithURL(o.sessionDir, o.minaURL, o.miotURL)
	switch service {
	case serviceMiNA:
		c.mina = acc
	case serviceMIoT:
		c.miot = acc
	}
	return c, nil
}
