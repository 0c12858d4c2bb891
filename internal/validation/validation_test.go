package validation

import (
	"errors"
	"math"
	"strings"
	"testing"
)

func TestValidateCity_EmptyAndWhitespace(t *testing.T) {
	for _, input := range []string{"", "   ", "\t"} {
		if _, err := ValidateCity(input, 1, 100); !errors.Is(err, ErrCityEmpty) {
			t.Errorf("ValidateCity(%q) error = %v, want ErrCityEmpty", input, err)
		}
	}
}

func TestValidateCity_Length(t *testing.T) {
	if _, err := ValidateCity("x", 2, 100); !errors.Is(err, ErrCityTooShort) {
		t.Errorf("error = %v, want ErrCityTooShort", err)
	}
	if _, err := ValidateCity(strings.Repeat("a", 101), 1, 100); !errors.Is(err, ErrCityTooLong) {
		t.Errorf("error = %v, want ErrCityTooLong", err)
	}
}

func TestValidateCity_InvalidChars(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"slash", "sea/ttle"},
		{"question", "sea?ttle"},
		{"hash", "sea#ttle"},
		{"control", "sea\x00ttle"},
		{"ampersand", "sea&ttle"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ValidateCity(tc.input, 1, 100); !errors.Is(err, ErrCityInvalidChars) {
				t.Errorf("error = %v, want ErrCityInvalidChars", err)
			}
		})
	}
}

func TestValidateCity_Valid(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"simple", "London", "London"},
		{"with space", "New York", "New York"},
		{"country suffix", "London,uk", "London,uk"},
		{"hyphen", "Stratford-upon-Avon", "Stratford-upon-Avon"},
		{"period and apostrophe", "St. John's", "St. John's"},
		{"trimmed", "  Boston  ", "Boston"},
		{"unicode", "Zürich", "Zürich"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ValidateCity(tc.input, 1, 100)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Errorf("ValidateCity() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestValidateCoordinates(t *testing.T) {
	tests := []struct {
		name     string
		lat, lon float64
		want     error
	}{
		{"origin", 0, 0, nil},
		{"bounds", -90, 180, nil},
		{"lat high", 90.1, 0, ErrLatitudeRange},
		{"lat nan", math.NaN(), 0, ErrLatitudeRange},
		{"lon low", 0, -180.5, ErrLongitudeRange},
		{"lon inf", 0, math.Inf(1), ErrLongitudeRange},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if err := ValidateCoordinates(tc.lat, tc.lon); !errors.Is(err, tc.want) {
				t.Errorf("ValidateCoordinates() = %v, want %v", err, tc.want)
			}
		})
	}
}
