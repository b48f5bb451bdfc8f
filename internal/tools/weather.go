package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ianisms/ha.ollama.conv.tools/internal/homeassistant"
)

// StateReader reads entity states from Home Assistant. Both the REST
// client and the WebSocket state cache satisfy it.
type StateReader interface {
	GetState(ctx context.Context, entityID string) (*homeassistant.State, error)
	GetStates(ctx context.Context) ([]homeassistant.State, error)
}

// errNoHomeAssistant is returned by tools that need Home Assistant when
// none is configured.
var errNoHomeAssistant = errors.New("Home Assistant is not configured")

// WeatherTool reports current conditions from a Home Assistant weather
// entity.
type WeatherTool struct {
	states        StateReader
	defaultEntity string
}

// NewWeatherTool creates the get_weather tool. defaultEntity is used
// when the model names neither an entity nor a matching location.
func NewWeatherTool(states StateReader, defaultEntity string) *WeatherTool {
	return &WeatherTool{states: states, defaultEntity: defaultEntity}
}

func (w *WeatherTool) Name() string { return "get_weather" }

func (w *WeatherTool) Description() string {
	return "Get current weather information for a location"
}

func (w *WeatherTool) Parameters() Schema {
	return Schema{
		"location": {
			Type:        "string",
			Description: "City or area to get weather for, matched against weather entity names",
		},
		"entity_id": {
			Type:        "string",
			Description: "Weather entity to read, e.g. weather.home",
		},
	}
}

type weatherArgs struct {
	Location string `arg:"location"`
	EntityID string `arg:"entity_id"`
}

func (w *WeatherTool) Execute(ctx context.Context, args map[string]string) (string, error) {
	if w.states == nil {
		return "", errNoHomeAssistant
	}
	var a weatherArgs
	if err := decodeArgs(w.Name(), args, &a); err != nil {
		return "", err
	}

	state, err := w.resolve(ctx, a)
	if err != nil {
		return "", err
	}
	if !state.Available() {
		return "", fmt.Errorf("weather data for %s is %s", state.EntityID, orUnknown(state.State))
	}

	temp, ok := state.Attributes["temperature"]
	if !ok || temp == nil {
		return "", fmt.Errorf("temperature data not available for %s", state.EntityID)
	}

	unit, _ := state.Attributes["temperature_unit"].(string)
	if unit == "" {
		unit = "°"
	}
	out := fmt.Sprintf("Current weather: %s, Temperature: %v%s", state.State, temp, unit)
	if h, ok := state.Attributes["humidity"]; ok && h != nil {
		out += fmt.Sprintf(", Humidity: %v%%", h)
	}
	return out, nil
}

// resolve picks the weather entity: an explicit entity_id, then a
// weather entity whose name matches the location, then the configured
// default, then the first weather entity Home Assistant reports.
func (w *WeatherTool) resolve(ctx context.Context, a weatherArgs) (*homeassistant.State, error) {
	if a.EntityID != "" {
		s, err := w.states.GetState(ctx, a.EntityID)
		if err != nil {
			return nil, fmt.Errorf("could not read %s: %w", a.EntityID, err)
		}
		return s, nil
	}

	all, err := w.states.GetStates(ctx)
	if err != nil {
		return nil, fmt.Errorf("could not list weather entities: %w", err)
	}

	var weather []homeassistant.State
	for _, s := range all {
		if s.Domain() == "weather" {
			weather = append(weather, s)
		}
	}

	if loc := strings.ToLower(strings.TrimSpace(a.Location)); loc != "" {
		for i := range weather {
			name := strings.ToLower(weather[i].FriendlyName())
			if strings.Contains(name, loc) || strings.Contains(weather[i].EntityID, strings.ReplaceAll(loc, " ", "_")) {
				return &weather[i], nil
			}
		}
	}

	if w.defaultEntity != "" {
		for i := range weather {
			if weather[i].EntityID == w.defaultEntity {
				return &weather[i], nil
			}
		}
	}

	if len(weather) == 0 {
		return nil, errors.New("no weather entity found in Home Assistant")
	}
	return &weather[0], nil
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
