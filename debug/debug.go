package debug

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type debug struct {
	All   bool
	Codec bool
	Fetch bool
	Merge bool
	Git   bool
	Gops  bool
}

var d *debug

func init() {
	d = &debug{}
	d.All = boolEnv("ISSUE_SYNC_DEBUG")
	d.Codec = d.All || boolEnv("ISSUE_SYNC_DEBUG_CODEC")
	d.Fetch = d.All || boolEnv("ISSUE_SYNC_DEBUG_FETCH")
	d.Merge = d.All || boolEnv("ISSUE_SYNC_DEBUG_MERGE")
	d.Git = d.All || boolEnv("ISSUE_SYNC_DEBUG_GIT")
	d.Gops = boolEnv("ISSUE_SYNC_GOPS")
	InitLogger(os.Stderr, Enabled())
}

// Enabled reports whether any debug flag is set.
func Enabled() bool {
	return d.All || d.Codec || d.Fetch || d.Merge || d.Git
}

func boolEnv(v string) bool {
	x := os.Getenv(v)
	if x == "" {
		return false
	}
	b, _ := strconv.ParseBool(x)
	return b
}

func Codec() bool {
	return d.Codec
}
func Fetch() bool {
	return d.Fetch
}
func Merge() bool {
	return d.Merge
}
func Git() bool {
	return d.Git
}
func Gops() bool {
	return d.Gops
}

// InitLogger points the global zerolog logger at w. Warnings and errors are
// always shown, debug output only when verbose.
func InitLogger(w io.Writer, verbose bool) {
	level := zerolog.WarnLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}).
		Level(level).
		With().Timestamp().Logger()
}

// Logf writes a debug message. Maps and slices are rendered as indented
// json.
func Logf(msg string, args ...any) {
	for i := range args {
		switch args[i].(type) {
		case map[string]any, []any:
			b, err := json.MarshalIndent(args[i], "   |", "  ")
			if err != nil {
				args[i] = fmt.Sprintf("%v", args[i])
				continue
			}
			args[i] = string(b)
		}
	}
	log.Debug().Msg(strings.TrimRight(fmt.Sprintf(msg, args...), "\n"))
}
