// Package weather samples current conditions from Open-Meteo
package weather

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/gmsas95/hemotrack/internal/config"
	"github.com/gmsas95/hemotrack/internal/store"
	"go.uber.org/zap"
)

const currentFields = "temperature_2m,relative_humidity_2m,surface_pressure,weather_code"

// Observation is one set of current conditions
type Observation struct {
	Time         time.Time
	Latitude     float64
	Longitude    float64
	TemperatureC float64
	HumidityPct  float64
	PressureHPa  float64
	WeatherCode  int
}

type forecastResponse struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Current   struct {
		Time             string  `json:"time"`
		Temperature      float64 `json:"temperature_2m"`
		RelativeHumidity float64 `json:"relative_humidity_2m"`
		SurfacePressure  float64 `json:"surface_pressure"`
		WeatherCode      int     `json:"weather_code"`
	} `json:"current"`
}

type errorResponse struct {
	Error  bool   `json:"error"`
	Reason string `json:"reason"`
}

// Client is an Open-Meteo forecast API client
type Client struct {
	http   *resty.Client
	logger *zap.Logger
}

// NewClient creates a weather client against baseURL
func NewClient(baseURL string, timeout time.Duration, logger *zap.Logger) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		http: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(timeout).
			SetRetryCount(2).
			SetRetryWaitTime(1 * time.Second).
			SetHeader("Accept", "application/json"),
		logger: logger,
	}
}

// Current fetches the current conditions at lat/lon
func (c *Client) Current(ctx context.Context, lat, lon float64) (*Observation, error) {
	var result forecastResponse
	var apiErr errorResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"latitude":  strconv.FormatFloat(lat, 'f', 4, 64),
			"longitude": strconv.FormatFloat(lon, 'f', 4, 64),
			"current":   currentFields,
			"timezone":  "UTC",
		}).
		SetResult(&result).
		SetError(&apiErr).
		Get("/v1/forecast")
	if err != nil {
		return nil, fmt.Errorf("failed to call weather API: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("weather API error: %s (status: %d)", apiErr.Reason, resp.StatusCode())
	}

	observed, err := time.ParseInLocation("2006-01-02T15:04", result.Current.Time, time.UTC)
	if err != nil {
		return nil, fmt.Errorf("failed to parse observation time %q: %w", result.Current.Time, err)
	}

	return &Observation{
		Time:         observed,
		Latitude:     result.Latitude,
		Longitude:    result.Longitude,
		TemperatureC: result.Current.Temperature,
		HumidityPct:  result.Current.RelativeHumidity,
		PressureHPa:  result.Current.SurfacePressure,
		WeatherCode:  result.Current.WeatherCode,
	}, nil
}

// Collector stores one WeatherSample per distinct observation
type Collector struct {
	client    *Client
	store     *store.Store
	latitude  float64
	longitude float64
	logger    *zap.Logger
}

// NewCollector creates a collector for the configured location
func NewCollector(cfg config.WeatherConfig, st *store.Store, logger *zap.Logger) *Collector {
	return &Collector{
		client:    NewClient(cfg.BaseURL, 0, logger),
		store:     st,
		latitude:  cfg.Latitude,
		longitude: cfg.Longitude,
		logger:    logger,
	}
}

// Collect fetches current conditions and stores them unless already stored.
// The returned bool reports whether a new row was written.
func (c *Collector) Collect(ctx context.Context) (*store.WeatherSample, bool, error) {
	obs, err := c.client.Current(ctx, c.latitude, c.longitude)
	if err != nil {
		return nil, false, err
	}

	until := obs.Time.Add(time.Second)
	existing, err := c.store.Weather.List(ctx, store.ListOptions{Since: &obs.Time, Until: &until, Limit: 1})
	if err != nil {
		return nil, false, err
	}
	if len(existing) > 0 {
		return &existing[0], false, nil
	}

	sample := &store.WeatherSample{
		ObservedAt:   obs.Time,
		Latitude:     obs.Latitude,
		Longitude:    obs.Longitude,
		TemperatureC: obs.TemperatureC,
		HumidityPct:  obs.HumidityPct,
		PressureHPa:  obs.PressureHPa,
		WeatherCode:  obs.WeatherCode,
	}
	if err := c.store.Weather.Create(ctx, sample); err != nil {
		return nil, false, err
	}

	c.logger.Debug("Weather sample stored",
		zap.Time("observed_at", sample.ObservedAt),
		zap.Float64("temperature_c", sample.TemperatureC),
	)
	return sample, true, nil
}
