//go:build no_serial
// +build no_serial

package main

import (
	"io"
	"os"

	"github.com/rs/zerolog"

	"github.com/fissionlink/internal/config"
)

// openInput reads panel lines from stdin when built without serial support.
func openInput(_ config.PanelConfig, log zerolog.Logger) (io.ReadCloser, error) {
	log.Info().Msg("reading panel lines from stdin")
	return io.NopCloser(os.Stdin), nil
}
