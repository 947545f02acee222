package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLowestFreeID(t *testing.T) {
	tests := []struct {
		name   string
		used   []ClientID
		max    int
		wantID ClientID
		wantOK bool
	}{
		{name: "empty", max: 4, wantID: 1, wantOK: true},
		{name: "fills gap", used: []ClientID{1, 3}, max: 4, wantID: 2, wantOK: true},
		{name: "appends", used: []ClientID{1, 2}, max: 4, wantID: 3, wantOK: true},
		{name: "full", used: []ClientID{1, 2}, max: 2, wantOK: false},
		{name: "zero max means wire limit", used: []ClientID{1}, max: 0, wantID: 2, wantOK: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			used := make(map[ClientID]struct{})
			for _, id := range tt.used {
				used[id] = struct{}{}
			}

			id, ok := LowestFreeID(used, tt.max)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, tt.wantID, id)
			}
		})
	}
}

func TestEventTypeString(t *testing.T) {
	assert.Equal(t, "ConnectAttempt", EventConnectAttempt.String())
	assert.Equal(t, "Disconnected", EventDisconnected.String())
	assert.Equal(t, "Message", EventMessage.String())
	assert.Equal(t, "Rejected", EventRejected.String())
	assert.Equal(t, "EventType(9)", EventType(9).String())
}
