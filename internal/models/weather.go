package models

import "time"

// WeatherReading is one fetched-and-normalized observation for a place and time.
// Values are never mutated after the controller publishes them.
type WeatherReading struct {
	CityName    string    `json:"cityName"`
	Country     string    `json:"country"`
	Temperature float64   `json:"temperature"`
	FeelsLike   float64   `json:"feelsLike"`
	Humidity    int       `json:"humidity"`
	WindSpeed   float64   `json:"windSpeed"`
	Description string    `json:"description"`
	WeatherID   int       `json:"weatherId"`
	Latitude    float64   `json:"latitude"`
	Longitude   float64   `json:"longitude"`
	Timezone    string    `json:"timezone,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
	UserID      string    `json:"userId,omitempty"`
}

// WithUser returns a copy of r owned by userID.
func (r WeatherReading) WithUser(userID string) WeatherReading {
	r.UserID = userID
	return r
}

// LocalTime returns the capture time in the reading's timezone, or UTC when the zone is unknown.
func (r WeatherReading) LocalTime() time.Time {
	if r.Timezone != "" {
		if loc, err := time.LoadLocation(r.Timezone); err == nil {
			return r.Timestamp.In(loc)
		}
	}
	return r.Timestamp.UTC()
}

// Coordinates is a device position. Never persisted on its own.
type Coordinates struct {
	Latitude  float64 `json:"latitude" mapstructure:"latitude"`
	Longitude float64 `json:"longitude" mapstructure:"longitude"`
}
