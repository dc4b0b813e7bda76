package service

import "errors"

var (
	ErrNotFound          = errors.New("error not found")
	ErrInsufficientFunds = errors.New("error insufficient funds")
	ErrUnknownSymbol     = errors.New("error unknown symbol")
	ErrAssetRequired     = errors.New("error asset required for trade transaction")
)
