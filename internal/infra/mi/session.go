package mi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"xiaoi/internal/domain"
)

// SessionFile is the name of the vendor session cache written by the Mi
// account login tooling.
const SessionFile = ".mi.json"

// LoginHelpURL explains how to obtain a session for accounts that need extra
// verification.
const LoginHelpURL = "https://github.com/idootop/migpt-next/issues/4"

var (
	ErrNoSession       = errors.New("no signed-in vendor session")
	ErrSessionRejected = errors.New("vendor API rejected the session")
)

// IsAuthError reports whether err asks the user to sign in again.
func IsAuthError(err error) bool {
	return errors.Is(err, ErrNoSession) ||
		errors.Is(err, ErrSessionRejected) ||
		errors.Is(err, domain.ErrMissingCredentials)
}

// Account holds the credentials of one vendor service.
type Account struct {
	UserID       flexString `json:"userId"`
	PassToken    string     `json:"passToken,omitempty"`
	DeviceID     string     `json:"deviceId"`
	ServiceToken string     `json:"serviceToken"`
	SSecurity    string     `json:"ssecurity"`
}

type Session struct {
	MiNA *Account `json:"mina"`
	MIoT *Account `json:"miot"`
}

// LoadSession reads the session file from dir; an empty dir means the
// current working directory.
func LoadSession(dir string) (*Session, error) {
	path := filepath.Join(dir, SessionFile)
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s not found (see %s)", ErrNoSession, path, LoginHelpURL)
	}
	if err != nil {
		return nil, fmt.Errorf("reading session file: %w", err)
	}

	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parsing session file %s: %w", path, err)
	}
	return &s, nil
}

// account returns the credentials for service after checking they belong
// to userID.
func (s *Session) account(service, userID string) (*Account, error) {
	var acc *Account
	switch service {
	case serviceMiNA:
		acc = s.MiNA
	case serviceMIoT:
		acc = s.MIoT
	}
	if acc == nil || acc.ServiceToken == "" {
		return nil, fmt.Errorf("%w for %s: login token missing (see %s)", ErrNoSession, service, LoginHelpURL)
	}
	if userID != "" && acc.UserID != "" && string(acc.UserID) != userID {
		return nil, fmt.Errorf("%w for %s: session belongs to user %s", ErrNoSession, service, acc.UserID)
	}
	return acc, nil
}

// flexString accepts both JSON strings and numbers.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if raw == "null" {
		*f = ""
		return nil
	}
	if strings.HasPrefix(raw, `"`) {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}
