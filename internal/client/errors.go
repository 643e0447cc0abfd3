package client

import "errors"

var (
	ErrNoForeground = errors.New("client: no foreground session")
	ErrNoRequest    = errors.New("client: no pending remote-control request")
	ErrNoSession    = errors.New("client: no active remote-control session")
)
