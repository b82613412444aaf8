package observability

import (
	"strings"

	"github.com/smallbiznis/timesync/internal/config"
)

const (
	ProtocolGRPC = "grpc"
	ProtocolHTTP = "http"
)

// Config is the observability view of config.Config, normalized once so the
// logger, tracer and meter providers agree on service identity.
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
	obs := cfg.Observability

	serviceName := strings.TrimSpace(cfg.AppName)
	if serviceName == "" {
		serviceName = "timesync"
	}

	protocol := obs.OtelProtocol
	switch protocol {
	case ProtocolGRPC, ProtocolHTTP:
	case "http/protobuf":
		protocol = ProtocolHTTP
	default:
		protocol = ProtocolGRPC
	}

	ratio := obs.OtelSamplingRatio
	if ratio < 0 || ratio > 1 {
		ratio = 1
	}

	logFormat := obs.LogFormat
	if logFormat != "console" {
		logFormat = "json"
	}

	return Config{
		ServiceName:          serviceName,
		Environment:          strings.ToLower(strings.TrimSpace(cfg.Environment)),
		Version:              strings.TrimSpace(cfg.AppVersion),
		LogLevel:             obs.LogLevel,
		LogFormat:            logFormat,
		OtelEnabled:          obs.OtelEnabled && obs.OtelEndpoint != "",
		OtelExporterEndpoint: obs.OtelEndpoint,
		OtelExporterProtocol: protocol,
		OtelSamplingRatio:    ratio,
	}
}

// Debug turns on stack traces and error details in request logs.
func (c Config) Debug() bool {
	if c.LogLevel == "debug" {
		return true
	}
	switch c.Environment {
	case "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}

func (c Config) IsProduction() bool {
	return c.Environment == "production"
}
