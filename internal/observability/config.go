package observability

import (
	"strings"

	"github.com/smallbiznis/insightzen/internal/config"
)

// Config is the slice of application config the logger and tracer need.
type Config struct {
	ServiceName string
	Environment string
	Version     string

	LogLevel  string
	LogFormat string

	OtelEnabled          bool
	OtelExporterEndpoint string
	OtelExporterProtocol string
	OtelSamplingRatio    float64
}

func LoadConfig(cfg config.Config) Config {
	service := strings.TrimSpace(cfg.AppName)
	if service == "" {
		service = "insightzen"
	}
	tel := cfg.Telemetry
	return Config{
		ServiceName:          service,
		Environment:          strings.TrimSpace(cfg.Environment),
		Version:              strings.TrimSpace(cfg.AppVersion),
		LogLevel:             orDefault(tel.LogLevel, "info"),
		LogFormat:            orDefault(tel.LogFormat, "json"),
		OtelEnabled:          tel.OtelEnabled,
		OtelExporterEndpoint: strings.TrimSpace(tel.OTLPEndpoint),
		OtelExporterProtocol: orDefault(tel.OTLPProtocol, "grpc"),
		OtelSamplingRatio:    tel.SamplingRatio,
	}
}

// Debug is true for debug level or a development environment.
func (c Config) Debug() bool {
	if c.LogLevel == "debug" {
		return true
	}
	switch strings.ToLower(c.Environment) {
	case "dev", "development", "local", "test":
		return true
	}
	return false
}

func orDefault(value, def string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	if value == "" {
		return def
	}
	return value
}
