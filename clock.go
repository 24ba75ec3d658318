package chatsync

import (
	"time"

	"github.com/google/uuid"
)

// Clock abstracts the device clock so local timestamps are deterministic in tests.
type Clock interface {
	Now() time.Time
}

// RealClock returns the actual current time.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// IDGenerator produces ids for locally created messages.
type IDGenerator interface {
	NewID() string
}

// UUIDGenerator produces random UUIDs.
type UUIDGenerator struct{}

func (UUIDGenerator) NewID() string { return uuid.New().String() }
