// Package main provides the cumat CLI: device matrix demos and snapshot tools.
package main

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

const version = "v0.1.0"

func main() {
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		With().Timestamp().Logger()

	if err := newRootCmd(os.Stdout, log).Execute(); err != nil {
		log.Error().Err(err).Msg("cumat failed")
		os.Exit(1)
	}
}
