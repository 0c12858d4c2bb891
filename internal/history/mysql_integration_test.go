//go:build integration
// +build integration

package history

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
)

// TestMySQLStore_SaveAndFind_Integration verifies ordering against a real MySQL server.
// Set MYSQL_TEST_DSN, e.g. root:secret@tcp(localhost:3306)/weather.
func TestMySQLStore_SaveAndFind_Integration(t *testing.T) {
	dsn := os.Getenv("MYSQL_TEST_DSN")
	if dsn == "" {
		t.Skip("MYSQL_TEST_DSN not set")
	}
	ctx := context.Background()
	store, err := OpenMySQLStore(ctx, dsn)
	if err != nil {
		t.Skipf("mysql not reachable: %v", err)
	}
	defer store.Close()

	user := "it-" + uuid.NewString()
	base := time.Now().UTC().Truncate(time.Second)
	for i, city := range []string{"Oslo", "Bergen", "Tromso"} {
		if err := store.Save(ctx, reading(user, city, base.Add(time.Duration(i)*time.Minute), float64(i))); err != nil {
			t.Fatalf("Save() error = %v", err)
		}
	}

	got, err := store.FindByUser(ctx, user)
	if err != nil {
		t.Fatalf("FindByUser() error = %v", err)
	}
	if len(got) != 3 || got[0].CityName != "Tromso" || got[2].CityName != "Oslo" {
		t.Errorf("FindByUser() = %+v, want Tromso..Oslo", got)
	}

	if err := store.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := store.Save(ctx, reading(user, "Oslo", base, 0)); err != ErrClosed {
		t.Errorf("Save() after Close error = %v, want ErrClosed", err)
	}
}
