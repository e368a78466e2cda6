package uc

import (
	"errors"

	"github.com/compozy/kbchat/engine/knowledge"
)

var (
	ErrInvalidInput    = errors.New("invalid input")
	ErrQueryMissing    = errors.New("query is required")
	ErrIDMissing       = errors.New("source id is required")
	ErrLocationMissing = errors.New("one of sourceId, fileName or fileUrl is required")
	ErrNotFound        = knowledge.ErrSourceNotFound
)
