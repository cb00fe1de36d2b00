package server

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"

	"github.com/rs/zerolog"

	"example.com/schcgate/internal/report"
	"example.com/schcgate/internal/schc"
	"example.com/schcgate/internal/telemetry"
)

// Options configures server creation.
type Options struct {
	// StorageDir holds received webhook records and generated results.
	StorageDir string
	Engine     *schc.Engine
	// Concurrency bounds the goroutines used by batch requests.
	Concurrency int
	// BufferLimit caps the fragments kept per device; zero means unbounded.
	BufferLimit int
	// DiscardRecords skips writing webhook records to StorageDir.
	DiscardRecords bool
	Lang           report.Language
	Logger         zerolog.Logger
	Recorder       telemetry.Recorder
}

func (o Options) withDefaults() (Options, error) {
	if o.StorageDir == "" {
		o.StorageDir = filepath.Join(os.TempDir(), "schcd")
	}
	if o.Engine == nil {
		e, err := schc.NewEngine()
		if err != nil {
			return o, err
		}
		o.Engine = e
	}
	if o.Concurrency <= 0 {
		o.Concurrency = runtime.NumCPU()
	}
	if o.BufferLimit < 0 {
		return o, errors.New("buffer limit must not be negative")
	}
	if o.Lang == "" {
		o.Lang = report.LangEnglish
	}
	if o.Recorder == nil {
		o.Recorder = telemetry.Nop{}
	}
	return o, nil
}
