package evo

import "errors"

var (
	ErrInvalidConfiguration = errors.New("invalid moran configuration")
	ErrInvalidDistribution  = errors.New("invalid fitness distribution")
	ErrAlreadyTerminated    = errors.New("moran process already terminated")
	ErrGenerationLimit      = errors.New("generation limit reached before fixation")
)
