package telemetry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"notifrelay/internal/status"
)

// Stats is the laptop daemon's /stats reply.
type Stats struct {
	CPUUsage       float64 `json:"cpu_usage"`
	RAMUsage       float64 `json:"ram_usage"`
	CPUTemp        float64 `json:"cpu_temp"`
	BatteryPercent float64 `json:"battery_percent"`
	IsPlugged      bool    `json:"is_plugged"`
	Timestamp      float64 `json:"timestamp"`
}

func (s Stats) Snapshot() status.Snapshot {
	return status.Snapshot{
		CPUPercent:     s.CPUUsage,
		RAMPercent:     s.RAMUsage,
		TemperatureC:   s.CPUTemp,
		BatteryPercent: s.BatteryPercent,
		Charging:       s.IsPlugged,
	}
}

// Remote polls the laptop daemon over HTTP.
type Remote struct {
	client *resty.Client
	path   string
}

func NewRemote(baseURL string, timeout time.Duration) (*Remote, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, errors.New("telemetry: remote base_url is required")
	}
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	c := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")
	return &Remote{client: c, path: "/stats"}, nil
}

func (r *Remote) Read(ctx context.Context) (status.Snapshot, error) {
	var st Stats
	resp, err := r.client.R().SetContext(ctx).SetResult(&st).Get(r.path)
	if err != nil {
		return status.Snapshot{}, fmt.Errorf("telemetry: get stats: %w", err)
	}
	if resp.IsError() {
		return status.Snapshot{}, fmt.Errorf("telemetry: get stats: %s", resp.Status())
	}
	return st.Snapshot(), nil
}
