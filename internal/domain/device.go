package domain

type DeviceSource string

const (
	DeviceSourceMiNA DeviceSource = "MiNA"
	DeviceSourceMIoT DeviceSource = "MIoT"
)

type OnlineState int

const (
	OnlineUnknown OnlineState = iota
	OnlineYes
	OnlineNo
)

func (s OnlineState) String() string {
	switch s {
	case OnlineYes:
		return "online"
	case OnlineNo:
		return "offline"
	default:
		return "unknown"
	}
}

func (s OnlineState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Device is one speaker as seen by the merged catalog.
type Device struct {
	DID     string         `json:"did"`
	Name    string         `json:"name"`
	Alias   string         `json:"alias,omitempty"`
	Model   string         `json:"model,omitempty"`
	MAC     string         `json:"mac,omitempty"`
	Online  OnlineState    `json:"online"`
	Sources []DeviceSource `json:"sources"`
}

func (d Device) HasSource(src DeviceSource) bool {
	for _, s := range d.Sources {
		if s == src {
			return true
		}
	}
	return false
}

// MiNADevice is a record from the media sub-API listing. Presence is a free
// form string and the model is unreliable, so Hardware is kept only as a hint.
type MiNADevice struct {
	DeviceID     string `json:"deviceID"`
	SerialNumber string `json:"serialNumber"`
	MiotDID      string `json:"miotDID"`
	Name         string `json:"name"`
	Alias        string `json:"alias"`
	Hardware     string `json:"hardware"`
	MAC          string `json:"mac"`
	Presence     string `json:"presence"`
}

// MIoTDevice is a record from the IoT sub-API listing.
type MIoTDevice struct {
	DID      string `json:"did"`
	Name     string `json:"name"`
	Model    string `json:"model"`
	MAC      string `json:"mac"`
	IsOnline bool   `json:"isOnline"`
}
