package config

import "errors"

var (
	// ErrInvalidConfig marks a config that loaded but failed validation, or
	// that cannot be mapped onto solver and calibration parameters.
	ErrInvalidConfig = errors.New("invalid dynrat config")
	// ErrLoadConfig marks a DYNRAT_CONFIG file or DYNRAT_ environment that
	// could not be read.
	ErrLoadConfig = errors.New("load dynrat config")
)
