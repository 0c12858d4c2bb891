// Package history persists published weather readings and lists them newest first.
package history

import (
	"context"
	"errors"
	"strings"

	"github.com/kjstillabower/weather-lookup-service/internal/models"
)

var (
	ErrClosed    = errors.New("history store closed")
	ErrInvalidID = errors.New("history lookup key is empty")
)

// Record is a stored reading with the identifier assigned on save.
type Record struct {
	ID string `json:"id"`
	models.WeatherReading
}

// Store is append-only: readings are saved and listed, never updated or removed.
// Finds return newest first; equal timestamps list the later save first.
type Store interface {
	Save(ctx context.Context, reading models.WeatherReading) error
	FindByUser(ctx context.Context, userID string) ([]Record, error)
	FindByCity(ctx context.Context, city string) ([]Record, error)
	Ping(ctx context.Context) error
	Close() error
}

func cityKey(city string) string {
	return strings.ToLower(strings.TrimSpace(city))
}
