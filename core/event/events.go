package event

import (
	"fmt"
	"strings"
)

// EventType は一つの fd について観測された準備状態のビット集合です
type EventType uint8

const (
	EVENT_TYPE_READ EventType = 1 << iota
	EVENT_TYPE_WRITE
	EVENT_TYPE_HANGUP
	EVENT_TYPE_ERROR
)

func (et EventType) Readable() bool {
	// hangup と error は read で検出させる
	return et&(EVENT_TYPE_READ|EVENT_TYPE_HANGUP|EVENT_TYPE_ERROR) != 0
}

func (et EventType) Writable() bool {
	return et&EVENT_TYPE_WRITE != 0
}

func (et EventType) String() string {
	if et == 0 {
		return "EVENT_TYPE_NONE"
	}
	var names []string
	for _, flag := range []EventType{EVENT_TYPE_READ, EVENT_TYPE_WRITE, EVENT_TYPE_HANGUP, EVENT_TYPE_ERROR} {
		if et&flag == 0 {
			continue
		}
		switch flag {
		case EVENT_TYPE_READ:
			names = append(names, "EVENT_TYPE_READ")
		case EVENT_TYPE_WRITE:
			names = append(names, "EVENT_TYPE_WRITE")
		case EVENT_TYPE_HANGUP:
			names = append(names, "EVENT_TYPE_HANGUP")
		case EVENT_TYPE_ERROR:
			names = append(names, "EVENT_TYPE_ERROR")
		}
	}
	if rest := et &^ (EVENT_TYPE_READ | EVENT_TYPE_WRITE | EVENT_TYPE_HANGUP | EVENT_TYPE_ERROR); rest != 0 {
		names = append(names, fmt.Sprintf("UNKNOWN: %d", uint8(rest)))
	}
	return strings.Join(names, "|")
}
