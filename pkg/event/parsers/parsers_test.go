package parsers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wagoodman/go-partybus"
	"github.com/wagoodman/go-progress"

	"github.com/anchore/go-tarfile/pkg/event"
)

func TestParseReadArchive(t *testing.T) {
	monitor := progress.NewManual(-1)

	path, prog, err := ParseReadArchive(partybus.Event{
		Type:   event.ReadArchive,
		Source: "/some/archive.tar",
		Value:  progress.Progressable(monitor),
	})
	require.NoError(t, err)
	assert.Equal(t, "/some/archive.tar", path)
	assert.Equal(t, progress.Progressable(monitor), prog)
}

func TestParseReadArchive_BadPayload(t *testing.T) {
	tests := []struct {
		name  string
		event partybus.Event
	}{
		{
			name: "wrong event type",
			event: partybus.Event{
				Type: partybus.EventType("bogus"),
			},
		},
		{
			name: "source is not a string",
			event: partybus.Event{
				Type:   event.ReadArchive,
				Source: 42,
				Value:  progress.Progressable(progress.NewManual(-1)),
			},
		},
		{
			name: "value is not a progressable",
			event: partybus.Event{
				Type:   event.ReadArchive,
				Source: "/some/archive.tar",
				Value:  "not-progress",
			},
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, _, err := ParseReadArchive(test.event)
			require.Error(t, err)
			var payloadErr *ErrBadPayload
			assert.ErrorAs(t, err, &payloadErr)
		})
	}
}
