package seriallogger

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
)

const (
	// DefaultMarker prefixes telemetry lines emitted by the device.
	DefaultMarker = "D;"

	// DefaultDelimiter terminates lines on the wire.
	DefaultDelimiter = '\n'
)

// Config holds the listener configuration.
type Config struct {
	PortName string  `json:"port" validate:"required"`
	BaudRate int     `json:"baud_rate" validate:"required,gt=0"`
	DataBits int     `json:"data_bits" validate:"omitempty,min=5,max=8"`
	Parity   int     `json:"parity" validate:"min=0,max=4"`
	StopBits float64 `json:"stop_bits"`

	// ReadTimeout is the underlying port read timeout. It bounds how long
	// Stop may wait for the reader goroutine to notice shutdown.
	ReadTimeout  time.Duration `json:"-"`
	WriteTimeout time.Duration `json:"-"`

	// Marker prefixes data lines; everything before and including it is
	// stripped before key:value parsing.
	Marker string `json:"marker"`

	// Delimiter is the byte used to frame lines. If zero, '\n' is used.
	Delimiter byte `json:"-"`

	// Debug switches logging from warnings-only to full debug output.
	Debug bool `json:"debug"`

	// LogFile, when set, mirrors log output to a rotating file.
	LogFile string `json:"log_file"`

	MetricsChannelSize int `json:"metrics_channel_size" validate:"min=0,max=10000"`
}

// DefaultConfig mirrors the defaults of the reference Arduino firmware:
// USB serial adapter on /dev/ttyUSB0 at 115200 baud, 8N1, one second
// read timeout.
func DefaultConfig() Config {
	return Config{
		PortName:    "/dev/ttyUSB0",
		BaudRate:    115200,
		DataBits:    8,
		Parity:      int(ParityNone),
		StopBits:    1,
		ReadTimeout: time.Second,
		Marker:      DefaultMarker,
		Delimiter:   DefaultDelimiter,
	}
}

// fileConfig is the on-disk representation; durations are human-readable
// strings ("500ms", "2s") rather than nanosecond counts.
type fileConfig struct {
	Config
	ReadTimeout  string `json:"read_timeout"`
	WriteTimeout string `json:"write_timeout"`
	Delimiter    string `json:"delimiter"`
}

// LoadConfig reads a JSON config file and merges it over DefaultConfig.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config file: %w", err)
	}

	fc := fileConfig{Config: cfg}
	if err = json.Unmarshal(raw, &fc); err != nil {
		return cfg, fmt.Errorf("decoding config file: %w", err)
	}
	cfg = fc.Config

	if fc.ReadTimeout != "" {
		if cfg.ReadTimeout, err = time.ParseDuration(fc.ReadTimeout); err != nil {
			return cfg, fmt.Errorf("parsing read_timeout: %w", err)
		}
	}
	if fc.WriteTimeout != "" {
		if cfg.WriteTimeout, err = time.ParseDuration(fc.WriteTimeout); err != nil {
			return cfg, fmt.Errorf("parsing write_timeout: %w", err)
		}
	}
	if fc.Delimiter != "" {
		cfg.Delimiter = fc.Delimiter[0]
	}

	applyDefaults(&cfg)

	if err = ValidateConfig(&cfg); err != nil {
		return cfg, fmt.Errorf("invalid config file %s: %w", path, err)
	}
	return cfg, nil
}

// applyDefaults fills zero values that have a sensible default.
func applyDefaults(cfg *Config) {
	if cfg.DataBits == 0 {
		cfg.DataBits = 8
	}
	if cfg.StopBits == 0 {
		cfg.StopBits = 1
	}
	if cfg.Marker == "" {
		cfg.Marker = DefaultMarker
	}
	if cfg.Delimiter == 0 {
		cfg.Delimiter = DefaultDelimiter
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = time.Second
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// ValidateConfig validates serial port configuration parameters.
func ValidateConfig(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("config validation: %w", err)
	}

	// Validate baud rate
	validBaudRates := []int{1200, 2400, 4800, 9600, 19200, 38400, 57600, 115200, 230400, 460800, 921600}
	if !isValidBaudRate(cfg.BaudRate, validBaudRates) {
		return fmt.Errorf("invalid baud rate %d, must be one of: %v", cfg.BaudRate, validBaudRates)
	}

	// Validate stop bits
	if cfg.StopBits != 0 && cfg.StopBits != 1 && cfg.StopBits != 1.5 && cfg.StopBits != 2 {
		return fmt.Errorf("stop bits must be 0, 1, 1.5, or 2, got: %.1f", cfg.StopBits)
	}

	// Validate timeouts
	if cfg.ReadTimeout < 0 {
		return fmt.Errorf("read timeout cannot be negative: %v", cfg.ReadTimeout)
	}
	if cfg.WriteTimeout < 0 {
		return fmt.Errorf("write timeout cannot be negative: %v", cfg.WriteTimeout)
	}

	return nil
}

func isValidBaudRate(rate int, valid []int) bool {
	for _, v := range valid {
		if rate == v {
			return true
		}
	}
	return false
}
