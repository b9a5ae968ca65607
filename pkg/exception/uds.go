package exception

import "errors"

var (
	ErrEmptyPathUDS    = errors.New("uds: empty socket path")
	ErrUDSFrameTooLong = errors.New("uds: frame exceeds limit")
)
