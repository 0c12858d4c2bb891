package presentation

import "testing"

// TestMap covers each band edge plus codes that fall between or outside bands.
func TestMap(t *testing.T) {
	tests := []struct {
		code       int
		background string
		animation  string
	}{
		{200, "weather_background_rainy", "thunderstorm.json"},
		{232, "weather_background_rainy", "thunderstorm.json"},
		{300, "weather_background_drizzle", "drizzle.json"},
		{321, "weather_background_drizzle", "drizzle.json"},
		{500, "weather_background_rainy", "rainy.json"},
		{531, "weather_background_rainy", "rainy.json"},
		{600, "weather_background_snowy", "snowy.json"},
		{622, "weather_background_snowy", "snowy.json"},
		{701, "weather_background_foggy", "foggy.json"},
		{781, "weather_background_foggy", "foggy.json"},
		{800, "weather_background_sunny", "sunny.json"},
		{801, "weather_background_cloudy", "cloudy.json"},
		{804, "weather_background_cloudy", "cloudy.json"},
		{233, "weather_background", "sunny.json"},
		{700, "weather_background", "sunny.json"},
		{805, "weather_background", "sunny.json"},
		{900, "weather_background", "sunny.json"},
		{0, "weather_background", "sunny.json"},
		{-1, "weather_background", "sunny.json"},
	}
	for _, tt := range tests {
		got := Map(tt.code)
		if got.Background != tt.background || got.Animation != tt.animation {
			t.Errorf("Map(%d) = %+v, want {%s %s}", tt.code, got, tt.background, tt.animation)
		}
	}
}

func TestCondition(t *testing.T) {
	tests := map[int]string{
		211: "thunderstorm",
		301: "drizzle",
		502: "rain",
		601: "snow",
		741: "fog",
		800: "clear",
		803: "clouds",
		999: "clear",
	}
	for code, want := range tests {
		if got := Condition(code); got != want {
			t.Errorf("Condition(%d) = %q, want %q", code, got, want)
		}
	}
}
