package event

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEventTypePredicates(t *testing.T) {
	cases := []struct {
		et       EventType
		readable bool
		writable bool
	}{
		{0, false, false},
		{EVENT_TYPE_READ, true, false},
		{EVENT_TYPE_WRITE, false, true},
		{EVENT_TYPE_HANGUP, true, false},
		{EVENT_TYPE_ERROR | EVENT_TYPE_WRITE, true, true},
	}
	for _, c := range cases {
		assert.Equal(t, c.readable, c.et.Readable(), "%v.Readable()", c.et)
		assert.Equal(t, c.writable, c.et.Writable(), "%v.Writable()", c.et)
	}
}

func TestEventTypeString(t *testing.T) {
	assert.Equal(t, "EVENT_TYPE_READ|EVENT_TYPE_HANGUP", (EVENT_TYPE_READ | EVENT_TYPE_HANGUP).String())
	assert.Equal(t, "EVENT_TYPE_NONE", EventType(0).String())
}
