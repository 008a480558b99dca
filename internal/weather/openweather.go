package weather

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

const openWeatherURL = "https://api.openweathermap.org/data/2.5/weather"

// OpenWeatherClient reads the OpenWeatherMap current-weather endpoint in metric units.
type OpenWeatherClient struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

func NewOpenWeatherClient(apiKey string, httpClient *http.Client) *OpenWeatherClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 5 * time.Second}
	}
	return &OpenWeatherClient{apiKey: apiKey, baseURL: openWeatherURL, client: httpClient}
}

// WithBaseURL points the client at another endpoint (tests, proxies).
func (c *OpenWeatherClient) WithBaseURL(u string) *OpenWeatherClient {
	c.baseURL = u
	return c
}

type owmResponse struct {
	Weather []struct {
		Main        string `json:"main"`
		Description string `json:"description"`
	} `json:"weather"`
	Main struct {
		Temp     *float64 `json:"temp"`
		Humidity *float64 `json:"humidity"`
	} `json:"main"`
	Wind struct {
		Speed float64 `json:"speed"`
	} `json:"wind"`
	Visibility *float64 `json:"visibility"`
	Rain       struct {
		OneHour float64 `json:"1h"`
	} `json:"rain"`
	Dt int64 `json:"dt"`
}

func (c *OpenWeatherClient) Observe(ctx context.Context, lat, lng float64) (*Observation, error) {
	q := url.Values{}
	q.Set("lat", strconv.FormatFloat(lat, 'f', 6, 64))
	q.Set("lon", strconv.FormatFloat(lng, 'f', 6, 64))
	q.Set("appid", c.apiKey)
	q.Set("units", "metric")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("openweathermap status %d", resp.StatusCode)
	}

	var body owmResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode openweathermap response: %w", err)
	}

	obs := &Observation{
		WindSpeed:   body.Wind.Speed,
		Visibility:  clearVisibilityM,
		Rain1h:      body.Rain.OneHour,
		Temperature: body.Main.Temp,
		Humidity:    body.Main.Humidity,
		ObservedAt:  time.Now().UTC(),
	}
	if len(body.Weather) > 0 {
		obs.Condition = body.Weather[0].Main
		obs.Description = body.Weather[0].Description
	}
	if body.Visibility != nil {
		obs.Visibility = *body.Visibility
	}
	if body.Dt > 0 {
		obs.ObservedAt = time.Unix(body.Dt, 0).UTC()
	}
	return obs, nil
}
