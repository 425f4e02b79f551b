package testlog

import (
	"os"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var configureOnce sync.Once

func Start(t *testing.T) {
	t.Helper()
	configureOnce.Do(func() {
		output := zerolog.ConsoleWriter{Out: os.Stderr, NoColor: true}
		log.Logger = zerolog.New(output).Level(zerolog.DebugLevel)
	})
	log.Debug().Str("test", t.Name()).Msg("start")
}
