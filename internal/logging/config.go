package logging

import (
	"io"
	"os"
	"strings"
)

// Config selects the level, format and destination of a Logger. The server
// fills it from LOG_LEVEL, LOG_FORMAT and LOG_OUTPUT; the CLI lets flags
// override the first two.
type Config struct {
	// Level is one of debug, info, warn, error or fatal. Unknown values
	// fall back to info.
	Level string `yaml:"level"`
	// Format is json or text. "console" is accepted as text.
	Format string `yaml:"format"`
	// Output is stdout, stderr, discard or a file path opened for append.
	Output string `yaml:"output"`
}

// DefaultConfig returns the default logging configuration.
func DefaultConfig() *Config {
	return &Config{
		Level:  "info",
		Format: string(FormatJSON),
		Output: "stderr",
	}
}

var levelNames = map[string]LogLevel{
	"debug":   DebugLevel,
	"info":    InfoLevel,
	"warn":    WarnLevel,
	"warning": WarnLevel,
	"error":   ErrorLevel,
	"fatal":   FatalLevel,
}

// NewLogger builds a Logger from cfg. A nil cfg means DefaultConfig.
func NewLogger(cfg *Config) (*Logger, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	output, err := openOutput(cfg.Output)
	if err != nil {
		return nil, err
	}

	level, ok := levelNames[strings.ToLower(strings.TrimSpace(cfg.Level))]
	if !ok {
		level = InfoLevel
	}

	if f := strings.ToLower(cfg.Format); f == string(FormatText) || f == "console" {
		return NewText(level, output), nil
	}
	return New(level, output), nil
}

func openOutput(output string) (io.Writer, error) {
	switch output {
	case "", "stderr":
		return os.Stderr, nil
	case "stdout":
		return os.Stdout, nil
	case "discard":
		return io.Discard, nil
	}
	return os.OpenFile(output, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
}
