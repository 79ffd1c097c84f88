package routerapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/helios-home/control-plane/internal/domain"
)

// BboxClient talks to a Bbox (Bouygues Telecom) home router's local HTTP
// API, grounded on the original's bouygues.rs client: a cookie-based
// session obtained once via password auth, then reused across calls,
// re-authenticating on a 401. Config names this router kind "bbox"
// (spec.md §6 API_ROUTER_API_KIND).
type BboxClient struct {
	httpClient *http.Client
	baseURL    *url.URL
	password   string

	mu     sync.RWMutex
	cookie string
}

// NewBboxClient constructs a client against baseURL, authenticating lazily
// on first use.
func NewBboxClient(baseURL, password string) (*BboxClient, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("%w: parse base url: %v", ErrInvalidResponse, err)
	}
	return &BboxClient{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		baseURL:    u,
		password:   password,
	}, nil
}

type bboxDeviceEntry struct {
	MACAddress string `json:"macaddress"`
	IPAddress  string `json:"ipaddress"`
	Hostname   string `json:"hostname"`
	Active     int    `json:"active"`
}

type bboxWANEntry struct {
	IPv4    string `json:"ipaddress"`
	IPv6    string `json:"ipv6address"`
	Gateway string `json:"gateway"`
	State   string `json:"state"`
	Uptime  int64  `json:"uptime"`
}

type bboxStatsEntry struct {
	Download struct {
		MaxBandwidth int `json:"maxbandwidth"`
		CurrBandwidth int `json:"currbandwidth"`
		TotalBytes    int `json:"totalbytes"`
		PacketsLost   int `json:"packetslost"`
	} `json:"down"`
	Upload struct {
		MaxBandwidth  int `json:"maxbandwidth"`
		CurrBandwidth int `json:"currbandwidth"`
		TotalBytes    int `json:"totalbytes"`
		PacketsLost   int `json:"packetslost"`
	} `json:"up"`
	ActiveSessions int `json:"numberofactivesession"`
}

// ListDevices fetches the router's current LAN client table.
func (c *BboxClient) ListDevices(ctx context.Context) ([]domain.Device, error) {
	var entries []bboxDeviceEntry
	if err := c.get(ctx, "/api/v1/hosts", &entries); err != nil {
		return nil, err
	}

	now := time.Now()
	out := make([]domain.Device, 0, len(entries))
	for _, e := range entries {
		mac, err := domain.ParseMAC(e.MACAddress)
		if err != nil {
			continue
		}
		out = append(out, domain.Device{
			MACAddress:  mac,
			LastKnownIP: e.IPAddress,
			DisplayName: e.Hostname,
			IsOnline:    e.Active != 0,
			LastSeen:    now,
			LastScanned: now,
		})
	}
	return out, nil
}

// WANConnectivity fetches the router's current WAN link state.
func (c *BboxClient) WANConnectivity(ctx context.Context) (domain.WanConnectivity, error) {
	var entries []bboxWANEntry
	if err := c.get(ctx, "/api/v1/wan/ip", &entries); err != nil {
		return domain.WanConnectivity{}, err
	}
	if len(entries) == 0 {
		return domain.WanConnectivity{}, fmt.Errorf("%w: empty wan/ip response", ErrInvalidResponse)
	}
	e := entries[0]
	status := domain.WanDown
	if e.State == "up" {
		status = domain.WanUp
	}
	return domain.WanConnectivity{
		IPv4:    e.IPv4,
		IPv6:    e.IPv6,
		Gateway: e.Gateway,
		Status:  status,
		Uptime:  time.Duration(e.Uptime) * time.Second,
	}, nil
}

// WANStats fetches the router's current bandwidth counters.
func (c *BboxClient) WANStats(ctx context.Context) (domain.WanStats, error) {
	var entries []bboxStatsEntry
	if err := c.get(ctx, "/api/v1/wan/ip/stats", &entries); err != nil {
		return domain.WanStats{}, err
	}
	if len(entries) == 0 {
		return domain.WanStats{}, fmt.Errorf("%w: empty wan/ip/stats response", ErrInvalidResponse)
	}
	e := entries[0]
	return domain.WanStats{
		Download: domain.WanStatsItem{
			MaxBandwidthKbps:          e.Download.MaxBandwidth,
			CurrentBandwidthKbps:      e.Download.CurrBandwidth,
			TotalSinceLastRebootBytes: e.Download.TotalBytes,
			PacketsLost:               e.Download.PacketsLost,
		},
		Upload: domain.WanStatsItem{
			MaxBandwidthKbps:          e.Upload.MaxBandwidth,
			CurrentBandwidthKbps:      e.Upload.CurrBandwidth,
			TotalSinceLastRebootBytes: e.Upload.TotalBytes,
			PacketsLost:               e.Upload.PacketsLost,
		},
		ActiveSessions: e.ActiveSessions,
	}, nil
}

// get performs an authenticated GET against path, retrying once after a
// fresh login if the session cookie has expired.
func (c *BboxClient) get(ctx context.Context, path string, target any) error {
	if err := c.ensureAuthenticated(ctx); err != nil {
		return err
	}

	resp, err := c.doGet(ctx, path)
	if err != nil {
		return err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		resp.Body.Close()
		if err := c.login(ctx); err != nil {
			return err
		}
		resp, err = c.doGet(ctx, path)
		if err != nil {
			return err
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return ErrAuthenticationFailed
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d", ErrInvalidResponse, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	return nil
}

func (c *BboxClient) doGet(ctx context.Context, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL.String()+path, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", ErrUnknown, err)
	}
	c.mu.RLock()
	cookie := c.cookie
	c.mu.RUnlock()
	if cookie != "" {
		req.Header.Set("Cookie", cookie)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return resp, nil
}

func (c *BboxClient) ensureAuthenticated(ctx context.Context) error {
	c.mu.RLock()
	authed := c.cookie != ""
	c.mu.RUnlock()
	if authed {
		return nil
	}
	return c.login(ctx)
}

// login exchanges the configured password for a session cookie.
func (c *BboxClient) login(ctx context.Context) error {
	form := url.Values{"password": {c.password}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL.String()+"/api/v1/login", nil)
	if err != nil {
		return fmt.Errorf("%w: build login request: %v", ErrUnknown, err)
	}
	req.URL.RawQuery = form.Encode()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return ErrAuthenticationFailed
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: login status %d", ErrInvalidResponse, resp.StatusCode)
	}

	for _, cookie := range resp.Cookies() {
		c.mu.Lock()
		c.cookie = cookie.String()
		c.mu.Unlock()
		return nil
	}
	return fmt.Errorf("%w: login response carried no session cookie", ErrInvalidResponse)
}
