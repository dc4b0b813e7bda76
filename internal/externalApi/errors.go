package externalApi

import "errors"

var (
	ErrNotFound    = errors.New("error not found")
	ErrEmptyResult = errors.New("error empty result")
)
