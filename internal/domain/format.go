package domain

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"
)

// humidityNoteThreshold is the relative humidity (%) from which the concise
// sentence mentions humidity at all.
const humidityNoteThreshold = 70

// MaxPayloadBytes is the largest text a single Meshtastic data packet carries.
const MaxPayloadBytes = 233

// FormatReport renders a report as one or two messages. The primary block
// (place, time, temperature, conditions, humidity) and the secondary block
// (wind, sun, observation time) are joined when the result fits in maxLen
// runes and in MaxPayloadBytes; otherwise they are sent separately.
// maxLen <= 0 disables the rune limit only.
func FormatReport(r Report, maxLen int) []string {
	primary := primaryBlock(r)
	secondary := secondaryBlock(r)

	full := primary + "\n" + secondary
	fitsRunes := maxLen <= 0 || utf8.RuneCountInString(full) <= maxLen
	if fitsRunes && len(full) <= MaxPayloadBytes {
		return []string{full}
	}
	msgs := []string{primary}
	if strings.TrimSpace(secondary) != "" {
		msgs = append(msgs, secondary)
	}
	return msgs
}

func primaryBlock(r Report) string {
	c := r.Current()
	return fmt.Sprintf("Weather in %s:\nTime: %s\nTemp: %s°C (%s°F)\nRealFeel: %s°C (%s°F)\nConditions: %s\nHumidity: %s%%",
		r.PlaceName(),
		orNA(c.LocalObsDateTime),
		orNA(c.TempC), orNA(c.TempF),
		orNA(c.FeelsLikeC), orNA(c.FeelsLikeF),
		c.Description(),
		orNA(c.Humidity),
	)
}

func secondaryBlock(r Report) string {
	c := r.Current()
	sunrise, sunset := r.Sun()
	return fmt.Sprintf("Wind: %skm/h %s\nSunrise: %s\nSunset: %s\nLast Obs UTC: %s",
		orNA(c.WindSpeedKmph), orNA(c.WindDir16Point),
		sunrise, sunset,
		orNA(c.ObservationTime),
	)
}

// FormatConcise renders a report as a single natural-language sentence, e.g.
// "Weather in London, City of London is partly cloudy today with 15°C
// (feels like 14°C) and winds at 11km/h SW. Humidity 72%".
func FormatConcise(r Report) string {
	c := r.Current()

	var b strings.Builder
	fmt.Fprintf(&b, "Weather in %s is %s today", r.PlaceName(), strings.ToLower(c.Description()))

	tempC, feelsC := orNA(c.TempC), orNA(c.FeelsLikeC)
	if tempC != notAvailable {
		fmt.Fprintf(&b, " with %s°C", tempC)
		if feelsC != notAvailable && feelsC != tempC {
			fmt.Fprintf(&b, " (feels like %s°C)", feelsC)
		}
	}

	if speed := orNA(c.WindSpeedKmph); speed != notAvailable && speed != "0" {
		dir := c.WindDir16Point
		if dir == notAvailable {
			dir = ""
		}
		b.WriteString(strings.TrimRight(fmt.Sprintf(" and winds at %skm/h %s", speed, dir), " "))
	}

	if h, err := strconv.Atoi(c.Humidity); err == nil && h >= humidityNoteThreshold {
		fmt.Fprintf(&b, ". Humidity %d%%", h)
	}
	return b.String()
}
