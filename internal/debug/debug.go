package debug

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Debug levels
const (
	LevelOff     = 0 // No output
	LevelInfo    = 1 // Important info (session start/stop, saved segments)
	LevelLive    = 2 // Live info (segment rotations, torch toggles)
	LevelVerbose = 3 // Verbose (device probing, config details)
	LevelTrace   = 4 // Trace (GPIO, pipeline, very low level)
)

var (
	mu     sync.RWMutex
	level  int
	out    io.Writer = os.Stdout
	logger           = zerolog.Nop()
)

// Init initializes the debug system with a level (0-4).
// 0 = no output
// 1 = important info (recording start/stop, segments saved)
// 2 = live info (rotations, torch)
// 3 = verbose (device probing, config)
// 4 = trace (GPIO, ffmpeg, very low level)
func Init(debugLevel int) {
	mu.Lock()
	defer mu.Unlock()
	level = debugLevel
	rebuild()
}

// SetOutput redirects log output. Used to mirror logs to the status stream.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	out = w
	rebuild()
}

// SetLevel changes the level at runtime (config reload).
func SetLevel(debugLevel int) {
	Init(debugLevel)
}

// rebuild must be called with mu held.
func rebuild() {
	if level <= LevelOff {
		logger = zerolog.Nop()
		return
	}
	// zerolog's global floor defaults to debug; per-logger level does the filtering.
	zerolog.SetGlobalLevel(zerolog.TraceLevel)
	cw := zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05.000", NoColor: true}
	logger = zerolog.New(cw).Level(zerologLevel(level)).With().
		Timestamp().
		Str("app", "torchrec").
		Logger()
}

func zerologLevel(l int) zerolog.Level {
	switch {
	case l >= LevelTrace:
		return zerolog.TraceLevel
	case l >= LevelLive:
		return zerolog.DebugLevel
	default:
		return zerolog.InfoLevel
	}
}

func current() (int, zerolog.Logger) {
	mu.RLock()
	defer mu.RUnlock()
	return level, logger
}

// Level returns the current debug level.
func Level() int {
	l, _ := current()
	return l
}

// IsEnabled returns true if debug level is >= the requested level.
func IsEnabled(minLevel int) bool {
	return Level() >= minLevel
}

// Logger returns a structured logger annotated with the component name.
// It follows the configured level; use it where fields matter more than prose.
func Logger(component string) zerolog.Logger {
	_, l := current()
	return l.With().Str("component", component).Logger()
}

// --- Level 1 functions (Info): important info ---

// Info prints a level 1 message (important info).
func Info(format string, args ...interface{}) {
	if l, lg := current(); l >= LevelInfo {
		lg.Info().Str("tag", "INFO").Msgf(format, args...)
	}
}

// Summary prints an important summary (level 1).
func Summary(title string) {
	if l, lg := current(); l >= LevelInfo {
		lg.Info().Msg("═══════════════════════════════════════")
		lg.Info().Msgf("  %s", title)
		lg.Info().Msg("═══════════════════════════════════════")
	}
}

// Saved prints a finalized segment (level 1).
func Saved(seq int64, path string) {
	if l, lg := current(); l >= LevelInfo {
		lg.Info().Str("tag", "INFO").Int64("seq", seq).Str("path", path).Msg("segment saved")
	}
}

// --- Level 2 functions (Live): real-time info ---

// Live prints a level 2 message (live info).
func Live(format string, args ...interface{}) {
	if l, lg := current(); l >= LevelLive {
		lg.Debug().Str("tag", "LIVE").Msgf(format, args...)
	}
}

// Rotate prints a segment rotation (level 2).
func Rotate(prev, next int64) {
	if l, lg := current(); l >= LevelLive {
		lg.Debug().Str("tag", "LIVE").Int64("ended", prev).Int64("began", next).Msg("segment rotated")
	}
}

// Torch prints a torch transition (level 2).
func Torch(on bool) {
	if l, lg := current(); l >= LevelLive {
		lg.Debug().Str("tag", "LIVE").Bool("on", on).Msg("torch")
	}
}

// --- Level 3 functions (Verbose): everything ---

// Verbose prints a level 3 message (verbose).
func Verbose(format string, args ...interface{}) {
	if l, lg := current(); l >= LevelVerbose {
		lg.Debug().Str("tag", "VERBOSE").Msgf(format, args...)
	}
}

// PrintStruct prints a struct in formatted form (level 3).
func PrintStruct(name string, v interface{}) {
	if l, lg := current(); l >= LevelVerbose {
		lg.Debug().Str("tag", "VERBOSE").Msgf("%s: %+v", name, v)
	}
}

// Section prints a section separator (level 3).
func Section(name string) {
	if l, lg := current(); l >= LevelVerbose {
		lg.Debug().Msg("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
		lg.Debug().Msgf("  %s", name)
		lg.Debug().Msg("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	}
}

// Step prints a numbered step (level 3).
func Step(num int, description string) {
	if l, lg := current(); l >= LevelVerbose {
		lg.Debug().Str("tag", "VERBOSE").Msgf("Step %d: %s", num, description)
	}
}

// Value prints a named value in formatted form (level 1).
func Value(name string, value interface{}) {
	if l, lg := current(); l >= LevelInfo {
		lg.Info().Str("tag", "INFO").Msgf("  %s = %v", name, value)
	}
}

// Elapsed prints how long an operation took (level 3).
func Elapsed(what string, since time.Time) {
	if l, lg := current(); l >= LevelVerbose {
		lg.Debug().Str("tag", "VERBOSE").Dur("took", time.Since(since)).Msg(what)
	}
}

// --- Level 4 functions (Trace): very low level ---

// Trace prints a level 4 message (trace).
func Trace(format string, args ...interface{}) {
	if l, lg := current(); l >= LevelTrace {
		lg.Trace().Str("tag", "TRACE").Msgf(format, args...)
	}
}

// GPIO prints a GPIO operation (level 4).
func GPIO(operation string, pin int, value interface{}) {
	if l, lg := current(); l >= LevelTrace {
		lg.Trace().Str("tag", "GPIO").Int("pin", pin).Interface("value", value).Msg(operation)
	}
}

// --- General functions ---

// Error prints a debug error (level 1+).
func Error(err error) {
	if l, lg := current(); l >= LevelInfo {
		lg.Error().Err(err).Msg("error")
	}
}

// Warn prints a non-fatal failure with context (level 1+).
func Warn(err error, format string, args ...interface{}) {
	if l, lg := current(); l >= LevelInfo {
		lg.Warn().Err(err).Msgf(format, args...)
	}
}

// Fmt is a helper function that returns a formatted string
// only if debug is enabled (to avoid unnecessary allocations).
func Fmt(format string, args ...interface{}) string {
	if Level() > 0 {
		return fmt.Sprintf(format, args...)
	}
	return ""
}
