package mi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"xiaoi/internal/application"
	"xiaoi/internal/domain"
	"xiaoi/internal/infra"
)

const (
	serviceMiNA = "MiNA"
	serviceMIoT = "MIoT"

	defaultMiNAURL = "https://api2.mina.mi.com"
	defaultMIoTURL = "https://api.io.mi.com/app"

	minaUserAgent = "MiHome/6.0.103 (com.xiaomi.mihome; build:6.0.103.1; iOS 14.4.0) Alamofire/6.0.103 MICO/iOSApp/appStore/6.0.103"
	miotUserAgent = "iOS-14.4-6.0.103-iPhone12,3--D7744744F7AF32F0544445285880DD63E47D9BE9-8816080-84A3F44E137B71AE-iPhone"
)

// Client talks to the two vendor sub-APIs: MiNA (media: speech, playback,
// volume) and MIoT (device spec actions and properties).
type Client struct {
	minaURL    string
	miotURL    string
	sessionDir string
	httpClient *http.Client
	now        func() time.Time

	mu          sync.RWMutex
	mina        *Account
	miot        *Account
	minaDevice  string
	miotDID     string
	boundModel  string
	boundDevice domain.Device
}

// NewClient reads the session file from sessionDir, or from the working
// directory at Init time when sessionDir is empty.
func NewClient(sessionDir string) *Client {
	return NewClientWithURL(sessionDir, defaultMiNAURL, defaultMIoTURL)
}

func NewClientWithURL(sessionDir, minaURL, miotURL string) *Client {
	return &Client{
		minaURL:    strings.TrimRight(minaURL, "/"),
		miotURL:    strings.TrimRight(miotURL, "/"),
		sessionDir: sessionDir,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		now:        time.Now,
	}
}

// Init loads the session and binds the client to the speaker named by
// cfg.DID, which may be a did, a MiNA device id, a name or an alias. An
// empty DID binds the first speaker on the account.
func (c *Client) Init(ctx context.Context, cfg domain.SpeakerConfig) error {
	session, err := LoadSession(c.sessionDir)
	if err != nil {
		return err
	}
	if err := c.useSession(session, cfg.UserID); err != nil {
		return err
	}

	speakers, err := c.ListMiNADevices(ctx)
	if err != nil {
		return fmt.Errorf("listing speakers: %w", err)
	}
	devices, err := c.ListMIoTDevices(ctx)
	if err != nil {
		return fmt.Errorf("listing devices: %w", err)
	}

	speaker, ok := findSpeaker(speakers, cfg.DID)
	if !ok {
		return fmt.Errorf("speaker %q not found among %d speakers on this account", cfg.DID, len(speakers))
	}

	did := speaker.MiotDID
	model := speaker.Hardware
	miotDev, found := findMIoTDevice(devices, did, cfg.DID)
	if found {
		did = miotDev.DID
		if miotDev.Model != "" {
			model = miotDev.Model
		}
	}

	bound := application.NormalizeMiNADevice(speaker)
	if found {
		if merged := application.MergeDevices([]domain.MiNADevice{speaker}, []domain.MIoTDevice{miotDev}); len(merged) == 1 {
			bound = merged[0]
		}
	}

	c.mu.Lock()
	c.minaDevice = speaker.DeviceID
	c.miotDID = did
	c.boundModel = model
	c.boundDevice = bound
	c.mu.Unlock()

	return nil
}

func (c *Client) BoundModel() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.boundModel
}

func (c *Client) BoundDevice() domain.Device {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.boundDevice
}

func (c *Client) Speak(ctx context.Context, req application.SpeakRequest) (any, error) {
	if req.URL != "" {
		return c.ubus(ctx, "mediaplayer", "player_play_url", map[string]any{
			"url":   req.URL,
			"type":  1,
			"media": "app_ios",
		})
	}
	return c.ubus(ctx, "mibrain", "text_to_speech", map[string]any{"text": req.Text})
}

func (c *Client) SetVolume(ctx context.Context, volume int) (any, error) {
	return c.ubus(ctx, "mediaplayer", "player_set_volume", map[string]any{
		"volume": volume,
		"media":  "app_ios",
	})
}

func (c *Client) DoAction(ctx context.Context, siid, aiid int, params any) (any, error) {
	did, err := c.boundDID()
	if err != nil {
		return nil, err
	}

	var result struct {
		Code int `json:"code"`
	}
	raw, err := c.miotCall(ctx, "/miotspec/action", map[string]any{
		"params": map[string]any{
			"did":  did,
			"siid": siid,
			"aiid": aiid,
			"in":   actionInput(params),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("executing action: %w", err)
	}
	if err := json.Unmarshal(raw, &result); err == nil && result.Code != 0 {
		return nil, fmt.Errorf("action [%d,%d] rejected with code %d", siid, aiid, result.Code)
	}

	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("parsing action result: %w", err)
	}
	if out == nil {
		return true, nil
	}
	return out, nil
}

func (c *Client) GetProperty(ctx context.Context, siid, piid int) (any, error) {
	did, err := c.boundDID()
	if err != nil {
		return nil, err
	}

	raw, err := c.miotCall(ctx, "/miotspec/prop/get", map[string]any{
		"params": []map[string]any{{"did": did, "siid": siid, "piid": piid}},
	})
	if err != nil {
		return nil, fmt.Errorf("fetching property: %w", err)
	}

	var props []struct {
		Code  int `json:"code"`
		Value any `json:"value"`
	}
	if err := json.Unmarshal(raw, &props); err != nil {
		return nil, fmt.Errorf("parsing property: %w", err)
	}
	if len(props) == 0 {
		return nil, fmt.Errorf("property [%d,%d] not returned", siid, piid)
	}
	if props[0].Code != 0 {
		return nil, fmt.Errorf("property [%d,%d] failed with code %d", siid, piid, props[0].Code)
	}
	return props[0].Value, nil
}

func (c *Client) ListMiNADevices(ctx context.Context) ([]domain.MiNADevice, error) {
	q := url.Values{"master": {"0"}}
	raw, err := c.minaRequest(ctx, http.MethodGet, "/admin/v2/device_list", q, nil, true)
	if err != nil {
		return nil, err
	}

	var devices []domain.MiNADevice
	if err := json.Unmarshal(raw, &devices); err != nil {
		return nil, fmt.Errorf("parsing speakers: %w", err)
	}
	return devices, nil
}

func (c *Client) ListMIoTDevices(ctx context.Context) ([]domain.MIoTDevice, error) {
	raw, err := c.miotCallWithRetry(ctx, "/home/device_list", map[string]any{
		"getVirtualModel": false,
		"getHuamiDevices": 0,
	}, true)
	if err != nil {
		return nil, err
	}

	var result struct {
		List []domain.MIoTDevice `json:"list"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("parsing devices: %w", err)
	}
	return result.List, nil
}

func (c *Client) useSession(s *Session, userID string) error {
	mina, err := s.account(serviceMiNA, userID)
	if err != nil {
		return err
	}
	miot, err := s.account(serviceMIoT, userID)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.mina = mina
	c.miot = miot
	c.mu.Unlock()
	return nil
}

func (c *Client) boundDID() (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.miotDID == "" {
		return "", fmt.Errorf("%w: no MIoT device bound", domain.ErrNotReady)
	}
	return c.miotDID, nil
}

func (c *Client) ubus(ctx context.Context, path, method string, message map[string]any) (any, error) {
	c.mu.RLock()
	deviceID := c.minaDevice
	c.mu.RUnlock()
	if deviceID == "" {
		return nil, fmt.Errorf("%w: no speaker bound", domain.ErrNotReady)
	}

	msg, err := json.Marshal(message)
	if err != nil {
		return nil, fmt.Errorf("encoding message: %w", err)
	}
	form := url.Values{
		"deviceId": {deviceID},
		"path":     {path},
		"method":   {method},
		"message":  {string(msg)},
	}

	raw, err := c.minaRequest(ctx, http.MethodPost, "/remote/ubus", nil, form, false)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}

	var out any
	if err := json.Unmarshal(raw, &out); err != nil || out == nil {
		return true, nil
	}
	return out, nil
}

type minaResponse struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (c *Client) minaRequest(ctx context.Context, method, path string, query, form url.Values, retry bool) (json.RawMessage, error) {
	c.mu.RLock()
	acc := c.mina
	c.mu.RUnlock()
	if acc == nil {
		return nil, fmt.Errorf("%w for %s", ErrNoSession, serviceMiNA)
	}

	if query == nil {
		query = url.Values{}
	}
	query.Set("requestId", "app_ios_"+strings.ReplaceAll(uuid.NewString(), "-", "")[:30])

	build := func() (*http.Request, error) {
		var body io.Reader
		if form != nil {
			body = strings.NewReader(form.Encode())
		}
		req, err := http.NewRequestWithContext(ctx, method, c.minaURL+path+"?"+query.Encode(), body)
		if err != nil {
			return nil, fmt.Errorf("creating request: %w", err)
		}
		req.Header.Set("User-Agent", minaUserAgent)
		if form != nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
		req.AddCookie(&http.Cookie{Name: "userId", Value: string(acc.UserID)})
		req.AddCookie(&http.Cookie{Name: "serviceToken", Value: acc.ServiceToken})
		if acc.DeviceID != "" {
			req.AddCookie(&http.Cookie{Name: "deviceId", Value: acc.DeviceID})
		}
		return req, nil
	}

	body, err := c.doRequest(ctx, build, retry)
	if err != nil {
		return nil, err
	}

	var resp minaResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parsing response: %w", err)
	}
	if resp.Code != 0 {
		return nil, fmt.Errorf("MiNA error %d: %s", resp.Code, resp.Message)
	}
	return resp.Data, nil
}

type miotResponse struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

func (c *Client) miotCall(ctx context.Context, uri string, payload any) (json.RawMessage, error) {
	return c.miotCallWithRetry(ctx, uri, payload, false)
}

func (c *Client) miotCallWithRetry(ctx context.Context, uri string, payload any, retry bool) (json.RawMessage, error) {
	c.mu.RLock()
	acc := c.miot
	c.mu.RUnlock()
	if acc == nil {
		return nil, fmt.Errorf("%w for %s", ErrNoSession, serviceMIoT)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding payload: %w", err)
	}

	build := func() (*http.Request, error) {
		form, err := signForm(uri, string(data), acc.SSecurity, c.now())
		if err != nil {
			return nil, err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.miotURL+uri, strings.NewReader(form.Encode()))
		if err != nil {
			return nil, fmt.Errorf("creating request: %w", err)
		}
		req.Header.Set("User-Agent", miotUserAgent)
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set("x-xiaomi-protocal-flag-cli", "PROTOCAL-HTTP2")
		req.AddCookie(&http.Cookie{Name: "userId", Value: string(acc.UserID)})
		req.AddCookie(&http.Cookie{Name: "serviceToken", Value: acc.ServiceToken})
		if acc.DeviceID != "" {
			req.AddCookie(&http.Cookie{Name: "PassportDeviceId", Value: acc.DeviceID})
		}
		return req, nil
	}

	body, err := c.doRequest(ctx, build, retry)
	if err != nil {
		return nil, err
	}

	var resp miotResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parsing response: %w", err)
	}
	if resp.Code != 0 {
		return nil, fmt.Errorf("MIoT error %d: %s", resp.Code, resp.Message)
	}
	return resp.Result, nil
}

// doRequest sends the request built by build. Only idempotent reads are
// retried; a repeated speech or action call would be audible twice.
func (c *Client) doRequest(ctx context.Context, build func() (*http.Request, error), retry bool) ([]byte, error) {
	cfg := infra.DefaultRetryConfig()
	if !retry {
		cfg.MaxAttempts = 1
	}

	var respBody []byte
	err := infra.WithRetry(ctx, cfg, func() error {
		req, err := build()
		if err != nil {
			return err
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("sending request: %w", err)
		}
		defer resp.Body.Close()

		respBody, err = io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("reading response: %w", err)
		}

		if infra.IsRetryableHTTPStatus(resp.StatusCode) {
			return fmt.Errorf("vendor API error %d (retryable): %s", resp.StatusCode, string(respBody))
		}
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			return infra.Permanent(fmt.Errorf("%w (%d): login again (see %s)", ErrSessionRejected, resp.StatusCode, LoginHelpURL))
		}
		if resp.StatusCode >= 400 {
			return infra.Permanent(fmt.Errorf("vendor API error %d: %s", resp.StatusCode, string(respBody)))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return respBody, nil
}

func findSpeaker(speakers []domain.MiNADevice, target string) (domain.MiNADevice, bool) {
	if len(speakers) == 0 {
		return domain.MiNADevice{}, false
	}
	target = strings.TrimSpace(target)
	if target == "" {
		return speakers[0], true
	}
	for _, s := range speakers {
		if s.MiotDID == target || s.DeviceID == target {
			return s, true
		}
	}
	for _, s := range speakers {
		if strings.EqualFold(s.Name, target) || strings.EqualFold(s.Alias, target) {
			return s, true
		}
	}
	return domain.MiNADevice{}, false
}

func findMIoTDevice(devices []domain.MIoTDevice, did, target string) (domain.MIoTDevice, bool) {
	for _, d := range devices {
		if did != "" && d.DID == did {
			return d, true
		}
	}
	if did == "" && target != "" {
		for _, d := range devices {
			if d.DID == target || strings.EqualFold(d.Name, target) {
				return d, true
			}
		}
	}
	return domain.MIoTDevice{}, false
}

// actionInput shapes action arguments as the "in" array the IoT API expects.
func actionInput(params any) []any {
	switch p := params.(type) {
	case nil:
		return []any{}
	case []any:
		return p
	case []string:
		out := make([]any, len(p))
		for i, s := range p {
			out[i] = s
		}
		return out
	default:
		return []any{p}
	}
}

