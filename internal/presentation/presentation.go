// Package presentation maps condition codes to the visual theme shown next to a reading.
package presentation

// Presentation names the background resource and the animation asset for a reading.
type Presentation struct {
	Background string `json:"background"`
	Animation  string `json:"animation"`
}

type band struct {
	low, high int
	condition string
	theme     Presentation
}

var bands = []band{
	{200, 232, "thunderstorm", Presentation{"weather_background_rainy", "thunderstorm.json"}},
	{300, 321, "drizzle", Presentation{"weather_background_drizzle", "drizzle.json"}},
	{500, 531, "rain", Presentation{"weather_background_rainy", "rainy.json"}},
	{600, 622, "snow", Presentation{"weather_background_snowy", "snowy.json"}},
	{701, 781, "fog", Presentation{"weather_background_foggy", "foggy.json"}},
	{800, 800, "clear", Presentation{"weather_background_sunny", "sunny.json"}},
	{801, 804, "clouds", Presentation{"weather_background_cloudy", "cloudy.json"}},
}

// Default is used for codes outside every known band.
var Default = Presentation{Background: "weather_background", Animation: "sunny.json"}

// Map returns the presentation for code. It never fails.
func Map(code int) Presentation {
	if b, ok := lookup(code); ok {
		return b.theme
	}
	return Default
}

// Condition returns a short condition name for code, "clear" when unknown.
func Condition(code int) string {
	if b, ok := lookup(code); ok {
		return b.condition
	}
	return "clear"
}

func lookup(code int) (band, bool) {
	for _, b := range bands {
		if code >= b.low && code <= b.high {
			return b, true
		}
	}
	return band{}, false
}
