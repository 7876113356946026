package pricing

import "context"

// Conditions is the weather oracle's answer for a coordinate pair.
type Conditions struct {
	IsExtreme   bool
	Description string
}

// WeatherOracle is the external weather collaborator. Timeouts are
// non-fatal: the engine degrades to non-extreme.
type WeatherOracle interface {
	GetConditions(ctx context.Context, lat, lng float64) (*Conditions, error)
}

// NoWeather is a WeatherOracle that always reports calm conditions. Used
// when no oracle is configured and in tests.
type NoWeather struct{}

func (NoWeather) GetConditions(context.Context, float64, float64) (*Conditions, error) {
	return &Conditions{IsExtreme: false}, nil
}
