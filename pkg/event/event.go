package event

import (
	"github.com/wagoodman/go-partybus"
)

const (
	// ReadArchive is published when a random-access index begins scanning an
	// archive; the event value is a progress.Progressable tracking the number
	// of entries indexed so far.
	ReadArchive partybus.EventType = "read-archive-event"
)
