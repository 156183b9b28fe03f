package rendezvous

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Hamza-Labs-Core/zajel-sub013/internal/protocol"
)

type recordingNotifier struct {
	events []struct {
		target string
		match  protocol.Match
	}
}

func (n *recordingNotifier) NotifyMatch(peerID string, match protocol.Match) {
	n.events = append(n.events, struct {
		target string
		match  protocol.Match
	}{peerID, match})
}

func newTestRegistry(t *testing.T) (*Registry, *recordingNotifier, *clock.Mock) {
	t.Helper()
	mock := clock.NewMock()
	notifier := &recordingNotifier{}
	reg := NewRegistry(Options{
		DailyTTL:  48 * time.Hour,
		HourlyTTL: 3 * time.Hour,
	}, notifier, mock, nil)
	return reg, notifier, mock
}

func TestDailyPoints_FirstRegistrationSeesNothing(t *testing.T) {
	reg, _, _ := newTestRegistry(t)

	drops := reg.RegisterDailyPoints("alice", []string{"day_X"}, json.RawMessage(`"α"`), "R1")
	assert.Empty(t, drops)
}

func TestDailyPoints_SecondPeerReceivesDrop(t *testing.T) {
	reg, _, _ := newTestRegistry(t)

	reg.RegisterDailyPoints("alice", []string{"day_X"}, json.RawMessage(`"α"`), "R1")
	drops := reg.RegisterDailyPoints("bob", []string{"day_X"}, json.RawMessage(`"β"`), "R2")

	require.Len(t, drops, 1)
	assert.Equal(t, "alice", drops[0].PeerID)
	assert.Equal(t, json.RawMessage(`"α"`), drops[0].DeadDrop)
	assert.Equal(t, "R1", drops[0].RelayID)
}

func TestDailyPoints_NeverReturnsOwnDrop(t *testing.T) {
	reg, _, _ := newTestRegistry(t)

	reg.RegisterDailyPoints("alice", []string{"day_X"}, json.RawMessage(`"α"`), "R1")
	drops := reg.RegisterDailyPoints("alice", []string{"day_X"}, json.RawMessage(`"α2"`), "R1")
	assert.Empty(t, drops)
}

func TestDailyPoints_ReRegistrationReplacesEntry(t *testing.T) {
	reg, _, _ := newTestRegistry(t)

	reg.RegisterDailyPoints("alice", []string{"day_X"}, json.RawMessage(`"v1"`), "R1")
	reg.RegisterDailyPoints("alice", []string{"day_X"}, json.RawMessage(`"v2"`), "R1")

	drops := reg.RegisterDailyPoints("bob", []string{"day_X"}, nil, "R2")
	require.Len(t, drops, 1)
	assert.Equal(t, json.RawMessage(`"v2"`), drops[0].DeadDrop)
}

func TestDailyPoints_IdempotentForMatchingPurposes(t *testing.T) {
	reg, _, _ := newTestRegistry(t)
	reg.RegisterDailyPoints("alice", []string{"day_X"}, json.RawMessage(`"α"`), "R1")

	first := reg.RegisterDailyPoints("bob", []string{"day_X"}, json.RawMessage(`"β"`), "R2")
	second := reg.RegisterDailyPoints("bob", []string{"day_X"}, json.RawMessage(`"β"`), "R2")
	assert.Equal(t, first, second)
}

func TestDailyPoints_EntriesWithoutDropsAreNotReturned(t *testing.T) {
	reg, _, _ := newTestRegistry(t)

	reg.RegisterDailyPoints("alice", []string{"day_X"}, nil, "R1")
	drops := reg.RegisterDailyPoints("bob", []string{"day_X"}, json.RawMessage(`"β"`), "R2")
	assert.Empty(t, drops)
}

func TestDailyPoints_ExpiredDropsFilteredAtReadTime(t *testing.T) {
	reg, _, mock := newTestRegistry(t)

	reg.RegisterDailyPoints("alice", []string{"day_X"}, json.RawMessage(`"α"`), "R1")
	mock.Add(48 * time.Hour) // expires == now is expired

	drops := reg.RegisterDailyPoints("bob", []string{"day_X"}, json.RawMessage(`"β"`), "R2")
	assert.Empty(t, drops)
}

func TestHourlyTokens_BidirectionalMatch(t *testing.T) {
	reg, notifier, _ := newTestRegistry(t)

	matches := reg.RegisterHourlyTokens("alice", []string{"hr_Y"}, "R1")
	assert.Empty(t, matches)
	assert.Empty(t, notifier.events)

	matches = reg.RegisterHourlyTokens("bob", []string{"hr_Y"}, "R2")
	require.Len(t, matches, 1)
	assert.Equal(t, protocol.Match{PeerID: "alice", RelayID: "R1"}, matches[0])

	require.Len(t, notifier.events, 1)
	assert.Equal(t, "alice", notifier.events[0].target)
	assert.Equal(t, protocol.Match{PeerID: "bob", RelayID: "R2"}, notifier.events[0].match)
}

func TestHourlyTokens_NeverMatchesSelf(t *testing.T) {
	reg, notifier, _ := newTestRegistry(t)

	reg.RegisterHourlyTokens("alice", []string{"hr_Y"}, "R1")
	matches := reg.RegisterHourlyTokens("alice", []string{"hr_Y"}, "R1")
	assert.Empty(t, matches)
	assert.Empty(t, notifier.events)
}

func TestHourlyTokens_FanOutPerTokenPerPeer(t *testing.T) {
	// Two tokens each already held by the same prior peer: the arrival is
	// reported once per collision, duplicates preserved.
	reg, notifier, _ := newTestRegistry(t)

	reg.RegisterHourlyTokens("alice", []string{"hr_1", "hr_2"}, "R1")
	matches := reg.RegisterHourlyTokens("bob", []string{"hr_1", "hr_2"}, "R2")

	assert.Len(t, matches, 2)
	assert.Len(t, notifier.events, 2)
}

func TestHourlyTokens_ExpiredEntriesNeverReturned(t *testing.T) {
	reg, notifier, mock := newTestRegistry(t)

	reg.RegisterHourlyTokens("alice", []string{"hr_Y"}, "R1")
	mock.Add(3 * time.Hour)

	matches := reg.RegisterHourlyTokens("bob", []string{"hr_Y"}, "R2")
	assert.Empty(t, matches)
	assert.Empty(t, notifier.events)
}

func TestUnregisterPeer_ScrubsEverything(t *testing.T) {
	reg, _, _ := newTestRegistry(t)

	reg.RegisterDailyPoints("alice", []string{"day_X"}, json.RawMessage(`"α"`), "R1")
	reg.RegisterHourlyTokens("alice", []string{"hr_Y"}, "R1")
	reg.UnregisterPeer("alice")

	drops := reg.RegisterDailyPoints("bob", []string{"day_X"}, nil, "R2")
	matches := reg.RegisterHourlyTokens("bob", []string{"hr_Y"}, "R2")
	assert.Empty(t, drops)
	assert.Empty(t, matches)

	stats := reg.Stats()
	assert.Equal(t, 1, stats.DailyEntries) // bob only
	assert.Equal(t, 1, stats.HourlyEntries)
}

func TestUnregisterPeer_Idempotent(t *testing.T) {
	reg, _, _ := newTestRegistry(t)
	reg.RegisterHourlyTokens("alice", []string{"hr_Y"}, "R1")
	reg.UnregisterPeer("alice")
	reg.UnregisterPeer("alice")
	assert.Equal(t, 0, reg.Stats().HourlyEntries)
}

func TestCleanup_RemovesExpiredAndEmptyBuckets(t *testing.T) {
	reg, _, mock := newTestRegistry(t)

	reg.RegisterHourlyTokens("alice", []string{"hr_old"}, "R1")
	mock.Add(3 * time.Hour)
	reg.RegisterHourlyTokens("bob", []string{"hr_new"}, "R2")

	removed := reg.Cleanup()
	assert.Equal(t, 1, removed)

	reg.mu.Lock()
	_, oldExists := reg.hourly["hr_old"]
	_, newExists := reg.hourly["hr_new"]
	reg.mu.Unlock()
	assert.False(t, oldExists)
	assert.True(t, newExists)
}

func TestCleanup_DailyAndHourlyTTLsDiffer(t *testing.T) {
	reg, _, mock := newTestRegistry(t)

	reg.RegisterDailyPoints("alice", []string{"day_X"}, json.RawMessage(`"α"`), "R1")
	reg.RegisterHourlyTokens("alice", []string{"hr_Y"}, "R1")

	mock.Add(4 * time.Hour)
	reg.Cleanup()

	stats := reg.Stats()
	assert.Equal(t, 1, stats.DailyEntries)
	assert.Equal(t, 0, stats.HourlyEntries)
}
