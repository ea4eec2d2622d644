package digest

import (
	"context"
	"fmt"
	"net/url"
	"strings"
)

const openMeteoBaseURL = "https://api.open-meteo.com"

// Paris coordinates.
const (
	parisLatitude  = "48.8566"
	parisLongitude = "2.3522"
)

// Weather is the Open-Meteo forecast subset used by the bot.
type Weather struct {
	Timezone string         `json:"timezone"`
	Current  CurrentWeather `json:"current"`
	Daily    DailyForecast  `json:"daily"`
}

type CurrentWeather struct {
	Time        string  `json:"time"`
	Temperature float64 `json:"temperature_2m"`
	WeatherCode int     `json:"weather_code"`
	WindSpeed   float64 `json:"wind_speed_10m"`
}

type DailyForecast struct {
	Time        []string  `json:"time"`
	MaxTemp     []float64 `json:"temperature_2m_max"`
	MinTemp     []float64 `json:"temperature_2m_min"`
	WeatherCode []int     `json:"weather_code"`
}

// OpenMeteo is a keyless forecast client.
type OpenMeteo struct {
	opts options
}

func NewOpenMeteo(opts ...Option) *OpenMeteo {
	return &OpenMeteo{opts: newOptions(openMeteoBaseURL, opts)}
}

// Paris returns current conditions and the week ahead for Paris.
func (m *OpenMeteo) Paris(ctx context.Context) (*Weather, error) {
	params := url.Values{
		"latitude":  {parisLatitude},
		"longitude": {parisLongitude},
		"current":   {"temperature_2m,weather_code,wind_speed_10m"},
		"daily":     {"temperature_2m_max,temperature_2m_min,weather_code"},
		"timezone":  {"Europe/Paris"},
	}
	var w Weather
	if err := getJSON(ctx, m.opts, "open-meteo", m.opts.baseURL+"/v1/forecast?"+params.Encode(), &w); err != nil {
		return nil, err
	}
	return &w, nil
}

// Format renders the forecast for chat.
func (w *Weather) Format() string {
	var b strings.Builder
	fmt.Fprintf(&b, "🌤️ 巴黎天气\n现在：%.1f°C，%s，风速 %.0f km/h",
		w.Current.Temperature, DescribeWeatherCode(w.Current.WeatherCode), w.Current.WindSpeed)
	n := min(len(w.Daily.Time), len(w.Daily.MaxTemp), len(w.Daily.MinTemp), len(w.Daily.WeatherCode))
	if n > 0 {
		b.WriteString("\n")
	}
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, "\n%s  %.0f～%.0f°C  %s",
			w.Daily.Time[i], w.Daily.MinTemp[i], w.Daily.MaxTemp[i], DescribeWeatherCode(w.Daily.WeatherCode[i]))
	}
	return b.String()
}

// DescribeWeatherCode maps a WMO weather code to a short Chinese label.
func DescribeWeatherCode(code int) string {
	switch {
	case code == 0:
		return "晴"
	case code == 1 || code == 2:
		return "少云"
	case code == 3:
		return "阴"
	case code == 45 || code == 48:
		return "雾"
	case code >= 51 && code <= 57:
		return "毛毛雨"
	case code >= 61 && code <= 67:
		return "雨"
	case code >= 71 && code <= 77:
		return "雪"
	case code >= 80 && code <= 82:
		return "阵雨"
	case code == 85 || code == 86:
		return "阵雪"
	case code >= 95:
		return "雷暴"
	default:
		return fmt.Sprintf("天气代码 %d", code)
	}
}
