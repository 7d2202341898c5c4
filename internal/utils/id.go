package utils

import (
	"strconv"
	"time"

	"github.com/google/uuid"
)

// NewID returns an opaque unique identifier for rooms and users.
func NewID() string {
	id, err := uuid.NewRandom()
	if err != nil {
		// uuid only fails if the entropy source is broken; fall back
		// to a timestamp so callers still get something unique-ish.
		return strconv.FormatInt(time.Now().UnixNano(), 10)
	}
	return id.String()
}
