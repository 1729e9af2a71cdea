package domain

// notAvailable is shown in place of any field missing from a report.
const notAvailable = "N/A"

// Report is the subset of a wttr.in j1 response the relay formats.
type Report struct {
	CurrentCondition []CurrentCondition `json:"current_condition"`
	NearestArea      []NearestArea      `json:"nearest_area"`
	Weather          []DailyWeather     `json:"weather"`
}

// CurrentCondition holds the latest observation. All values are strings in
// the upstream JSON.
type CurrentCondition struct {
	TempC            string      `json:"temp_C"`
	TempF            string      `json:"temp_F"`
	FeelsLikeC       string      `json:"FeelsLikeC"`
	FeelsLikeF       string      `json:"FeelsLikeF"`
	Humidity         string      `json:"humidity"`
	WindSpeedKmph    string      `json:"windspeedKmph"`
	WindDir16Point   string      `json:"winddir16Point"`
	ObservationTime  string      `json:"observation_time"`
	LocalObsDateTime string      `json:"localObsDateTime"`
	WeatherDesc      []TextValue `json:"weatherDesc"`
}

// NearestArea is the place wttr.in resolved the query to.
type NearestArea struct {
	AreaName []TextValue `json:"areaName"`
	Region   []TextValue `json:"region"`
	Country  []TextValue `json:"country"`
}

// DailyWeather is one forecast day; only astronomy is used.
type DailyWeather struct {
	Date      string      `json:"date"`
	Astronomy []Astronomy `json:"astronomy"`
}

// Astronomy carries sunrise and sunset in local time, e.g. "06:42 AM".
type Astronomy struct {
	Sunrise string `json:"sunrise"`
	Sunset  string `json:"sunset"`
}

// TextValue is wttr.in's {"value": "..."} wrapper.
type TextValue struct {
	Value string `json:"value"`
}

// HasCurrent reports whether the report carries an observation.
func (r Report) HasCurrent() bool {
	return len(r.CurrentCondition) > 0
}

// Current returns the first observation, or a zero value if there is none.
func (r Report) Current() CurrentCondition {
	if len(r.CurrentCondition) == 0 {
		return CurrentCondition{}
	}
	return r.CurrentCondition[0]
}

// PlaceName renders "<area>, <region>", falling back to "Unknown Location".
func (r Report) PlaceName() string {
	if len(r.NearestArea) == 0 {
		return "Unknown Location"
	}
	area := firstValue(r.NearestArea[0].AreaName)
	if area == "" {
		area = "Unknown Location"
	}
	if region := firstValue(r.NearestArea[0].Region); region != "" {
		return area + ", " + region
	}
	return area
}

// Sun returns today's sunrise and sunset, "N/A" when absent.
func (r Report) Sun() (sunrise, sunset string) {
	sunrise, sunset = notAvailable, notAvailable
	if len(r.Weather) == 0 || len(r.Weather[0].Astronomy) == 0 {
		return sunrise, sunset
	}
	a := r.Weather[0].Astronomy[0]
	return orNA(a.Sunrise), orNA(a.Sunset)
}

// Description returns the condition text, e.g. "Partly cloudy".
func (c CurrentCondition) Description() string {
	return orNA(firstValue(c.WeatherDesc))
}

func firstValue(vs []TextValue) string {
	if len(vs) == 0 {
		return ""
	}
	return vs[0].Value
}

func orNA(s string) string {
	if s == "" {
		return notAvailable
	}
	return s
}
