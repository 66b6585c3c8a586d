package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultWeatherURL is the OpenWeather current-conditions endpoint.
const DefaultWeatherURL = "http://api.openweathermap.org/data/2.5/weather"

// ErrCityNotFound is returned when OpenWeather has no data for a city.
var ErrCityNotFound = errors.New("city not found")

// WeatherConfig configures the OpenWeather client.
type WeatherConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
	Units   string `yaml:"units"`
	Lang    string `yaml:"lang"`
}

// Weather is a current-conditions report.
type Weather struct {
	City        string
	Description string
	TempC       float64
	FeelsLikeC  float64
	Humidity    int
	WindSpeed   float64
}

// WeatherClient queries OpenWeather.
type WeatherClient struct {
	cfg    WeatherConfig
	client *http.Client
	logger *slog.Logger
}

// NewWeatherClient creates a client. Units default to metric, language to en.
func NewWeatherClient(cfg WeatherConfig, logger *slog.Logger) *WeatherClient {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultWeatherURL
	}
	if cfg.Units == "" {
		cfg.Units = "metric"
	}
	if cfg.Lang == "" {
		cfg.Lang = "en"
	}
	return &WeatherClient{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger.With("component", "weather"),
	}
}

type owmResponse struct {
	Name    string `json:"name"`
	Weather []struct {
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
}

// Current returns current conditions for city. Any non-200 answer is
// reported as ErrCityNotFound, wrapped with the status.
func (c *WeatherClient) Current(ctx context.Context, city string) (*Weather, error) {
	city = strings.TrimSpace(city)
	if city == "" {
		return nil, ErrCityNotFound
	}
	if c.cfg.APIKey == "" {
		return nil, errors.New("weather: API key not configured (set OPENWEATHER_API_KEY)")
	}

	q := url.Values{}
	q.Set("q", city)
	q.Set("appid", c.cfg.APIKey)
	q.Set("units", c.cfg.Units)
	q.Set("lang", c.cfg.Lang)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("weather: creating request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("weather: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		c.logger.Warn("weather lookup failed", "city", city, "status", resp.StatusCode, "body", string(body))
		return nil, fmt.Errorf("weather: status %d: %w", resp.StatusCode, ErrCityNotFound)
	}

	var r owmResponse
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return nil, fmt.Errorf("weather: decoding response: %w", err)
	}

	w := &Weather{
		City:       city,
		TempC:      r.Main.Temp,
		FeelsLikeC: r.Main.FeelsLike,
		Humidity:   r.Main.Humidity,
		WindSpeed:  r.Wind.Speed,
	}
	if len(r.Weather) > 0 {
		w.Description = capitalize(r.Weather[0].Description)
	}
	return w, nil
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	r := []rune(s)
	return strings.ToUpper(string(r[0])) + strings.ToLower(string(r[1:]))
}
