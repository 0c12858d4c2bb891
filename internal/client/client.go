package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/zsefvlol/timezonemapper"

	"github.com/kjstillabower/weather-lookup-service/internal/models"
	"github.com/kjstillabower/weather-lookup-service/internal/observability"
)

// WeatherClient fetches current conditions for a city or a coordinate pair.
type WeatherClient interface {
	FetchByCity(ctx context.Context, name string) (models.WeatherReading, error)
	FetchByCoordinates(ctx context.Context, lat, lon float64) (models.WeatherReading, error)
	ValidateAPIKey(ctx context.Context) error
}

var (
	ErrRequestFailed    = errors.New("request failed")
	ErrDecode           = errors.New("decode error")
	ErrNetwork          = errors.New("network failure")
	ErrInvalidAPIKey    = errors.New("invalid API key")
	ErrLocationNotFound = errors.New("location not found")
	ErrRateLimited      = errors.New("rate limited")
)

// StatusError is returned for every non-2xx upstream response.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: HTTP %d", ErrRequestFailed, e.StatusCode)
}

// Is lets errors.Is match ErrRequestFailed and the status-specific sentinels.
func (e *StatusError) Is(target error) bool {
	switch target {
	case ErrRequestFailed:
		return true
	case ErrInvalidAPIKey:
		return e.StatusCode == http.StatusUnauthorized
	case ErrLocationNotFound:
		return e.StatusCode == http.StatusNotFound
	case ErrRateLimited:
		return e.StatusCode == http.StatusTooManyRequests
	}
	return false
}

type OpenWeatherClient struct {
	apiKey string
	apiURL string
	client *http.Client
}

// NewOpenWeatherClient builds a client for the /data/2.5/weather endpoint at apiURL.
// timeout is the transport timeout; there is no retry layer on top of it.
func NewOpenWeatherClient(apiKey, apiURL string, timeout time.Duration) (*OpenWeatherClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: API key is required", ErrInvalidAPIKey)
	}
	if len(apiKey) < 10 {
		return nil, fmt.Errorf("%w: API key appears invalid (too short)", ErrInvalidAPIKey)
	}
	if _, err := url.Parse(apiURL); err != nil {
		return nil, fmt.Errorf("invalid API URL: %w", err)
	}

	return &OpenWeatherClient{
		apiKey: apiKey,
		apiURL: apiURL,
		client: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

type openWeatherResponse struct {
	Weather []struct {
		ID          int    `json:"id"`
		Main        string `json:"main"`
		Description string `json:"description"`
	} `json:"weather"`
	Main struct {
		Temp      float64 `json:"temp"`
		FeelsLike float64 `json:"feels_like"`
		Humidity  int     `json:"humidity"`
	} `json:"main"`
	Wind struct {
		Speed float64 `json:"speed"`
	} `json:"wind"`
	Name string `json:"name"`
	Sys  struct {
		Country string `json:"country"`
	} `json:"sys"`
	Coord *struct {
		Lat float64 `json:"lat"`
		Lon float64 `json:"lon"`
	} `json:"coord"`
}

// FetchByCity issues one GET keyed by city name.
func (c *OpenWeatherClient) FetchByCity(ctx context.Context, name string) (models.WeatherReading, error) {
	params := url.Values{}
	params.Set("q", name)
	return c.fetch(ctx, params)
}

// FetchByCoordinates issues one GET keyed by latitude and longitude.
func (c *OpenWeatherClient) FetchByCoordinates(ctx context.Context, lat, lon float64) (models.WeatherReading, error) {
	params := url.Values{}
	params.Set("lat", strconv.FormatFloat(lat, 'f', -1, 64))
	params.Set("lon", strconv.FormatFloat(lon, 'f', -1, 64))
	return c.fetch(ctx, params)
}

func (c *OpenWeatherClient) fetch(ctx context.Context, params url.Values) (models.WeatherReading, error) {
	start := time.Now()

	req, err := c.buildRequest(ctx, params)
	if err != nil {
		observability.WeatherAPICallsTotal.WithLabelValues("error").Inc()
		return models.WeatherReading{}, fmt.Errorf("build request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		observability.WeatherAPICallsTotal.WithLabelValues("error").Inc()
		observability.WeatherAPIDuration.WithLabelValues("error").Observe(time.Since(start).Seconds())
		if ctxErr := ctx.Err(); ctxErr != nil {
			return models.WeatherReading{}, ctxErr
		}
		return models.WeatherReading{}, fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	defer resp.Body.Close()

	status := statusLabel(resp.StatusCode)
	observability.WeatherAPICallsTotal.WithLabelValues(status).Inc()
	observability.WeatherAPIDuration.WithLabelValues(status).Observe(time.Since(start).Seconds())

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return models.WeatherReading{}, &StatusError{StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return models.WeatherReading{}, fmt.Errorf("%w: read body: %v", ErrNetwork, err)
	}

	var apiResp openWeatherResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return models.WeatherReading{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return mapResponse(apiResp, time.Now()), nil
}

func (c *OpenWeatherClient) buildRequest(ctx context.Context, params url.Values) (*http.Request, error) {
	baseURL, err := url.Parse(c.apiURL)
	if err != nil {
		return nil, fmt.Errorf("invalid API URL: %w", err)
	}
	params.Set("appid", c.apiKey)
	params.Set("units", "metric")
	baseURL.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if corrID := observability.CorrelationID(ctx); corrID != "" {
		req.Header.Set("X-Correlation-ID", corrID)
	}
	return req, nil
}

// mapResponse normalizes the upstream payload. A missing weather entry falls back to
// condition 800 (clear).
func mapResponse(apiResp openWeatherResponse, capturedAt time.Time) models.WeatherReading {
	reading := models.WeatherReading{
		CityName:    apiResp.Name,
		Country:     apiResp.Sys.Country,
		Temperature: apiResp.Main.Temp,
		FeelsLike:   apiResp.Main.FeelsLike,
		Humidity:    apiResp.Main.Humidity,
		WindSpeed:   apiResp.Wind.Speed,
		WeatherID:   800,
		Timestamp:   capturedAt,
	}
	if len(apiResp.Weather) > 0 {
		reading.WeatherID = apiResp.Weather[0].ID
		reading.Description = capitalize(apiResp.Weather[0].Description)
	}
	if apiResp.Coord != nil {
		reading.Latitude = apiResp.Coord.Lat
		reading.Longitude = apiResp.Coord.Lon
		reading.Timezone = timezoneFor(apiResp.Coord.Lat, apiResp.Coord.Lon)
	}
	return reading
}

func timezoneFor(lat, lon float64) string {
	tz := strings.TrimSpace(timezonemapper.LatLngToTimezoneString(lat, lon))
	if tz == "" || strings.EqualFold(tz, "unknown") {
		return ""
	}
	return tz
}

func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError || !unicode.IsLower(r) {
		return s
	}
	return string(unicode.ToTitle(r)) + s[size:]
}

func statusLabel(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return "success"
	case statusCode == http.StatusTooManyRequests:
		return "rate_limited"
	case statusCode >= 400 && statusCode < 500:
		return "client_error"
	case statusCode >= 500:
		return "server_error"
	}
	return "error"
}

// ValidateAPIKey performs a cheap lookup to confirm the key is accepted upstream.
func (c *OpenWeatherClient) ValidateAPIKey(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	params := url.Values{}
	params.Set("q", "London")
	req, err := c.buildRequest(ctx, params)
	if err != nil {
		return fmt.Errorf("build validation request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("validation request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("%w: API key is invalid or not activated", ErrInvalidAPIKey)
	}
	if resp.StatusCode != http.StatusOK {
		return &StatusError{StatusCode: resp.StatusCode}
	}
	return nil
}
