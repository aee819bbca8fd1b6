//go:build !no_serial
// +build !no_serial

package main

import (
	"fmt"
	"io"

	"github.com/rs/zerolog"
	"github.com/tarm/serial"

	"github.com/fissionlink/internal/config"
)

func openInput(cfg config.PanelConfig, log zerolog.Logger) (io.ReadCloser, error) {
	port, err := serial.OpenPort(&serial.Config{Name: cfg.Device, Baud: cfg.Baud})
	if err != nil {
		return nil, fmt.Errorf("open serial %s: %w", cfg.Device, err)
	}
	log.Info().Str("port", cfg.Device).Int("baud", cfg.Baud).Msg("panel serial port open")
	return port, nil
}
