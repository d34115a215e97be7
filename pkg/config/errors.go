package config

import "errors"

var (
	ErrParsingConfig = errors.New("config: environment does not match the config struct")
	ErrNilPointer    = errors.New("config: nil destination")
	ErrEnvFile       = errors.New("config: cannot read env file")
)
