package logger

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	once        sync.Once
	initialized = false
)

// Init configures the global zerolog logger. Later calls are no-ops.
func Init(appName, logLevel string) error {
	return InitWithWriter(appName, logLevel, os.Stdout)
}

// InitWithWriter is Init with an explicit output, used by tests.
func InitWithWriter(appName, logLevel string, out io.Writer) error {
	if initialized {
		log.Debug().Msg("Logger already initialized!")
		return nil
	}
	level, err := ParseLevel(logLevel)
	if err != nil {
		return err
	}
	once.Do(func() {
		zerolog.SetGlobalLevel(level)
		log.Logger = zerolog.New(zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: "01/02/2006 15:04:05",
			FormatLevel: func(i interface{}) string {
				return strings.ToUpper(fmt.Sprintf("%-6s", i))
			},
			PartsOrder: []string{
				zerolog.TimestampFieldName,
				zerolog.LevelFieldName,
				zerolog.CallerFieldName,
				zerolog.MessageFieldName,
			},
		}).With().Timestamp().Str("app", appName).Caller().Logger()

		zerolog.CallerMarshalFunc = func(pc uintptr, file string, line int) string {
			parts := strings.Split(file, "/")
			return parts[len(parts)-1] + ":" + strconv.Itoa(line)
		}

		initialized = true
		log.Info().Msg("Logger initialized!")
	})
	return nil
}

// ParseLevel maps DEBUG..DISABLED onto zerolog levels. An empty string means WARN.
func ParseLevel(logLevel string) (zerolog.Level, error) {
	switch strings.ToUpper(strings.TrimSpace(logLevel)) {
	case "DEBUG":
		return zerolog.DebugLevel, nil
	case "INFO":
		return zerolog.InfoLevel, nil
	case "", "WARN":
		return zerolog.WarnLevel, nil
	case "ERROR":
		return zerolog.ErrorLevel, nil
	case "FATAL":
		return zerolog.FatalLevel, nil
	case "PANIC":
		return zerolog.PanicLevel, nil
	case "DISABLED":
		return zerolog.Disabled, nil
	default:
		return zerolog.NoLevel, fmt.Errorf("incorrect log level %q", logLevel)
	}
}
