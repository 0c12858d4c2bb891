package telegram

import (
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/kjstillabower/weather-lookup-service/internal/history"
	"github.com/kjstillabower/weather-lookup-service/internal/models"
	"github.com/kjstillabower/weather-lookup-service/internal/presentation"
)

func escape(s string) string { return tgbotapi.EscapeText(tgbotapi.ModeHTML, s) }

func renderReading(r models.WeatherReading) string {
	var b strings.Builder
	place := escape(r.CityName)
	if r.Country != "" {
		place += ", " + escape(r.Country)
	}
	fmt.Fprintf(&b, "<b>%s</b>\n", place)
	fmt.Fprintf(&b, "%.1f°C (feels like %.1f°C)\n", r.Temperature, r.FeelsLike)
	fmt.Fprintf(&b, "Humidity %d%%, wind %.1f m/s\n", r.Humidity, r.WindSpeed)
	fmt.Fprintf(&b, "%s (%s)\n", escape(r.Description), presentation.Condition(r.WeatherID))

	local := r.LocalTime()
	zone := r.Timezone
	if zone == "" {
		zone = "UTC"
	}
	fmt.Fprintf(&b, "Local time %s %s", local.Format("15:04"), zone)
	return b.String()
}

func renderHistory(records []history.Record, limit int) string {
	if len(records) == 0 {
		return "No lookups yet."
	}
	if len(records) > limit {
		records = records[:limit]
	}
	var b strings.Builder
	b.WriteString("Recent lookups:")
	for _, r := range records {
		fmt.Fprintf(&b, "\n%s  %s %.1f°C %s",
			r.LocalTime().Format("2006-01-02 15:04"), r.CityName, r.Temperature, r.Description)
	}
	return b.String()
}
