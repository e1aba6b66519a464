package recorder

import "github.com/chalmers-revere/cloudrec/internal/logging"

// Options for a recording run - flat structure with toml mapping.
type Options struct {
	Config string

	// Capture settings
	Name          string `toml:"capture.name" env:"NAME"`
	Width         uint32 `toml:"capture.width" env:"WIDTH"`
	Height        uint32 `toml:"capture.height" env:"HEIGHT"`
	ID            uint32 `toml:"capture.id" env:"ID"`
	Verbose       bool   `toml:"capture.verbose" env:"VERBOSE"`
	AttachTimeout string `toml:"capture.attach_timeout" env:"ATTACH_TIMEOUT"`

	// Session settings
	CID uint32 `toml:"session.cid" env:"CID"`

	// Recording settings
	Rec          string `toml:"recording.path" env:"REC"`
	RecSuffix    string `toml:"recording.suffix" env:"RECSUFFIX" flag:"recsuffix"`
	OnWriteError string `toml:"recording.on_write_error" env:"ON_WRITE_ERROR"`
	Fsync        bool   `toml:"recording.fsync" env:"FSYNC"`

	// API settings
	HTTP string `toml:"api.http" env:"HTTP"`

	// Logging settings
	LogLevel       string `toml:"logging.level" env:"LOG_LEVEL"`
	LogFormat      string `toml:"logging.format" env:"LOG_FORMAT"`
	LoggingCapture string `toml:"logging.capture" env:"LOGGING_CAPTURE"`
	LoggingSession string `toml:"logging.session" env:"LOGGING_SESSION"`
	LoggingAPI     string `toml:"logging.api" env:"LOGGING_API"`
}

// LoggingConfig assembles the logging setup from the flat options.
// Verbose raises the capture module to debug so every recorded frame
// gets a log line.
func (o *Options) LoggingConfig() logging.Config {
	captureLevel := o.LoggingCapture
	if o.Verbose {
		captureLevel = "debug"
	}
	return logging.Config{
		Level:  o.LogLevel,
		Format: o.LogFormat,
		Modules: map[string]string{
			"capture": captureLevel,
			"session": o.LoggingSession,
			"api":     o.LoggingAPI,
		},
	}
}
