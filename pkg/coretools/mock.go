package coretools

import (
	"context"
	"fmt"
	"strings"

	"github.com/harun/agentapi/internal/tracing"
	"github.com/harun/agentapi/pkg/toolexecutor"
	"github.com/rs/zerolog/log"
)

const (
	WeatherName  = "getCurrentWeather"
	DatabaseName = "queryDatabase"
	weatherDesc  = "Get the current weather in a given location"
	databaseDesc = "Query a database for information. Input should be a SQL-like query description."
)

// WeatherTool returns canned weather for a location.
func WeatherTool() toolexecutor.ToolDefinition {
	return toolexecutor.TextTool(WeatherName, weatherDesc, func(_ context.Context, location string) (string, error) {
		return fmt.Sprintf("The current weather in %s is 72°F and sunny.", strings.TrimSpace(location)), nil
	})
}

// DatabaseTool returns canned query results.
func DatabaseTool() toolexecutor.ToolDefinition {
	return toolexecutor.TextTool(DatabaseName, databaseDesc, func(ctx context.Context, query string) (string, error) {
		logger := tracing.LoggerFromContext(ctx, log.Logger)
		logger.Debug().Str("query", query).Msg("Simulating database query")
		return fmt.Sprintf("Results for query \"%s\": Sample data for demonstration purposes.", query), nil
	})
}
