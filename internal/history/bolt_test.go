package history

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/kjstillabower/weather-lookup-service/internal/boltdb"
	"github.com/kjstillabower/weather-lookup-service/internal/models"
)

func newTestBoltStore(t *testing.T) *BoltStore {
	t.Helper()
	db, err := boltdb.Open(filepath.Join(t.TempDir(), "history.db"), time.Second)
	if err != nil {
		t.Fatalf("boltdb.Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })

	store, err := NewBoltStore(db)
	if err != nil {
		t.Fatalf("NewBoltStore() error = %v", err)
	}
	return store
}

func reading(user, city string, ts time.Time, temp float64) models.WeatherReading {
	return models.WeatherReading{
		CityName:    city,
		Temperature: temp,
		WeatherID:   800,
		Timestamp:   ts,
		UserID:      user,
	}
}

// TestBoltStore_FindByUser_NewestFirst verifies descending timestamp order regardless of save order.
func TestBoltStore_FindByUser_NewestFirst(t *testing.T) {
	store := newTestBoltStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for _, r := range []models.WeatherReading{
		reading("u1", "London", base.Add(1*time.Minute), 11),
		reading("u1", "Paris", base.Add(3*time.Minute), 13),
		reading("u1", "Berlin", base.Add(2*time.Minute), 12),
		reading("u2", "London", base.Add(4*time.Minute), 14),
	} {
		if err := store.Save(ctx, r); err != nil {
			t.Fatalf("Save() error = %v", err)
		}
	}

	got, err := store.FindByUser(ctx, "u1")
	if err != nil {
		t.Fatalf("FindByUser() error = %v", err)
	}
	wantCities := []string{"Paris", "Berlin", "London"}
	if len(got) != len(wantCities) {
		t.Fatalf("FindByUser() returned %d records, want %d", len(got), len(wantCities))
	}
	for i, city := range wantCities {
		if got[i].CityName != city {
			t.Errorf("record %d city = %q, want %q", i, got[i].CityName, city)
		}
		if got[i].ID == "" {
			t.Errorf("record %d has no id", i)
		}
	}
}

// TestBoltStore_FindByCity verifies case-insensitive city lookup across users and tie ordering.
func TestBoltStore_FindByCity(t *testing.T) {
	store := newTestBoltStore(t)
	ctx := context.Background()
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	_ = store.Save(ctx, reading("u1", "London", ts, 1))
	_ = store.Save(ctx, reading("u2", "london", ts, 2))
	_ = store.Save(ctx, reading("u1", "Paris", ts, 3))

	got, err := store.FindByCity(ctx, " LONDON ")
	if err != nil {
		t.Fatalf("FindByCity() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("FindByCity() returned %d records, want 2", len(got))
	}
	if got[0].Temperature != 2 || got[1].Temperature != 1 {
		t.Errorf("tie order = %v,%v, want later save first (2,1)", got[0].Temperature, got[1].Temperature)
	}
}

func TestBoltStore_FindUnknown(t *testing.T) {
	store := newTestBoltStore(t)
	got, err := store.FindByUser(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("FindByUser() error = %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Errorf("FindByUser() = %v, want empty non-nil slice", got)
	}
	if _, err := store.FindByUser(context.Background(), ""); !errors.Is(err, ErrInvalidID) {
		t.Errorf("FindByUser(\"\") error = %v, want ErrInvalidID", err)
	}
}

func TestBoltStore_PreEpochOrdering(t *testing.T) {
	store := newTestBoltStore(t)
	ctx := context.Background()
	_ = store.Save(ctx, reading("u1", "A", time.Unix(-100, 0), 1))
	_ = store.Save(ctx, reading("u1", "B", time.Unix(100, 0), 2))

	got, _ := store.FindByUser(ctx, "u1")
	if len(got) != 2 || got[0].CityName != "B" {
		t.Errorf("FindByUser() = %+v, want B before A", got)
	}
}

func TestBoltStore_Closed(t *testing.T) {
	store := newTestBoltStore(t)
	if err := store.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	ctx := context.Background()
	if err := store.Save(ctx, reading("u1", "London", time.Now(), 1)); !errors.Is(err, ErrClosed) {
		t.Errorf("Save() after Close error = %v, want ErrClosed", err)
	}
	if _, err := store.FindByCity(ctx, "London"); !errors.Is(err, ErrClosed) {
		t.Errorf("FindByCity() after Close error = %v, want ErrClosed", err)
	}
	if err := store.Ping(ctx); !errors.Is(err, ErrClosed) {
		t.Errorf("Ping() after Close error = %v, want ErrClosed", err)
	}
}
