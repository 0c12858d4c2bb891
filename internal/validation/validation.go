// Package validation checks user-supplied city names and coordinates before they reach upstream.
package validation

import (
	"errors"
	"math"
	"strings"
	"unicode"
)

var (
	ErrCityEmpty        = errors.New("city is required")
	ErrCityTooShort     = errors.New("city too short")
	ErrCityTooLong      = errors.New("city too long")
	ErrCityInvalidChars = errors.New("city contains invalid characters")

	ErrLatitudeRange  = errors.New("latitude must be between -90 and 90")
	ErrLongitudeRange = errors.New("longitude must be between -180 and 180")
)

// Default bounds for city names, in runes.
const (
	CityMinLen = 1
	CityMaxLen = 100
)

// ValidateCity trims the input, enforces length bounds (minLen, maxLen in runes) and
// restricts it to letters, digits, space, comma, hyphen, period and apostrophe.
// Returns the trimmed name.
func ValidateCity(input string, minLen, maxLen int) (string, error) {
	s := strings.TrimSpace(input)
	r := []rune(s)
	n := len(r)
	if n == 0 {
		return "", ErrCityEmpty
	}
	if minLen > 0 && n < minLen {
		return "", ErrCityTooShort
	}
	if maxLen > 0 && n > maxLen {
		return "", ErrCityTooLong
	}
	for _, c := range r {
		if !isAllowedCityRune(c) {
			return "", ErrCityInvalidChars
		}
	}
	return s, nil
}

func isAllowedCityRune(r rune) bool {
	if unicode.IsLetter(r) || unicode.IsNumber(r) || unicode.Is(unicode.Mn, r) {
		return true
	}
	switch r {
	case ' ', ',', '-', '.', '\'':
		return true
	}
	return false
}

// ValidateCoordinates rejects NaN, infinities and out-of-range values.
func ValidateCoordinates(lat, lon float64) error {
	if math.IsNaN(lat) || math.IsInf(lat, 0) || lat < -90 || lat > 90 {
		return ErrLatitudeRange
	}
	if math.IsNaN(lon) || math.IsInf(lon, 0) || lon < -180 || lon > 180 {
		return ErrLongitudeRange
	}
	return nil
}
