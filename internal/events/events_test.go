package events

import (
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solace-fi/coverage/internal/chain"
)

type captureSink struct {
	got []Event
}

func (c *captureSink) Publish(e Event) { c.got = append(c.got, e) }

func TestBus_EmitStampsAndFansOut(t *testing.T) {
	clock := chain.NewManualClock(42, time.Unix(1_700_000_000, 0))
	bus := NewBus(clock)
	sink := &captureSink{}
	bus.AddSink(sink)

	src := common.HexToAddress("0xabc")
	bus.Emit(src, "PolicyCreated", map[string]any{"policyID": uint64(1)})
	bus.Emit(src, "PolicyBurned", map[string]any{"policyID": uint64(1)})

	require.Len(t, sink.got, 2)
	assert.Equal(t, uint64(1), sink.got[0].Seq)
	assert.Equal(t, uint64(42), sink.got[0].Block)
	assert.Equal(t, src, sink.got[0].Source)

	last, ok := bus.Last("PolicyCreated")
	require.True(t, ok)
	assert.Equal(t, uint64(1), last.Fields["policyID"])
	assert.Equal(t, 1, bus.Count("PolicyBurned"))
}

func TestBus_SinceFiltersAndLimits(t *testing.T) {
	bus := NewBus(chain.NewManualClock(1, time.Now()))
	for i := 0; i < 5; i++ {
		bus.Emit(common.Address{}, "A", nil)
		bus.Emit(common.Address{}, "B", nil)
	}

	all := bus.Since(0, "", 100)
	assert.Len(t, all, 10)

	onlyB := bus.Since(0, "B", 100)
	assert.Len(t, onlyB, 5)
	for _, e := range onlyB {
		assert.Equal(t, "B", e.Name)
	}

	page := bus.Since(4, "", 3)
	require.Len(t, page, 3)
	assert.Equal(t, uint64(5), page[0].Seq)
}

func TestBus_CapacityBound(t *testing.T) {
	bus := NewBus(chain.NewManualClock(1, time.Now()))
	bus.capacity = 3
	for i := 0; i < 5; i++ {
		bus.Emit(common.Address{}, "X", nil)
	}
	got := bus.Since(0, "", 10)
	require.Len(t, got, 3)
	assert.Equal(t, uint64(3), got[0].Seq)
}

func TestBus_HoldCommitPublishesInOrder(t *testing.T) {
	bus := NewBus(chain.NewManualClock(7, time.Now()))
	sink := &captureSink{}
	bus.AddSink(sink)

	bus.Hold()
	bus.Emit(common.Address{}, "PolicyCreated", nil)
	bus.Emit(common.Address{}, "PolicyUpdated", nil)
	assert.Empty(t, sink.got)
	assert.Empty(t, bus.Since(0, "", 10))

	bus.Commit()
	require.Len(t, sink.got, 2)
	assert.Equal(t, "PolicyCreated", sink.got[0].Name)
	assert.Equal(t, uint64(1), sink.got[0].Seq)
	assert.Equal(t, uint64(2), sink.got[1].Seq)
	assert.Equal(t, uint64(7), sink.got[1].Block)

	bus.Emit(common.Address{}, "PolicyBurned", nil)
	require.Len(t, sink.got, 3)
	assert.Equal(t, uint64(3), sink.got[2].Seq)
}

func TestBus_DiscardDropsHeldEvents(t *testing.T) {
	bus := NewBus(chain.NewManualClock(1, time.Now()))
	sink := &captureSink{}
	bus.AddSink(sink)

	bus.Hold()
	bus.Emit(common.Address{}, "PolicyCreated", nil)
	bus.Discard()
	bus.Commit()

	assert.Empty(t, sink.got)
	assert.Zero(t, bus.Count("PolicyCreated"))

	bus.Emit(common.Address{}, "PolicyCreated", nil)
	require.Len(t, sink.got, 1)
	assert.Equal(t, uint64(1), sink.got[0].Seq)
}
