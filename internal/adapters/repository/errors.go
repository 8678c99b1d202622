package repository

import (
	"errors"

	"github.com/okian/scoreingest/internal/domain/model"
)

// Sentinel kinds for store errors.
var (
	ErrNotFound     = model.ErrNotFound
	ErrInvalidLimit = errors.New("invalid ranking limit")
	ErrInvalidChart = errors.New("chart references an unknown song")
)
