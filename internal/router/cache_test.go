package router

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mentorlive/pkg/types"
)

func TestCachePutAndDrain(t *testing.T) {
	c := NewSignalCache(time.Minute)
	defer c.Stop()

	offer := types.NewEnvelope(types.MessageTypeWebRTCOffer, map[string]interface{}{"sdp": "offer"})
	answer := types.NewEnvelope(types.MessageTypeWebRTCAnswer, map[string]interface{}{"sdp": "answer"})
	c.Put("s1", "u1", offer)
	c.Put("s1", "u1", answer)

	got := c.Drain("s1", "u1")
	require.Len(t, got, 2)
	assert.Equal(t, types.MessageTypeWebRTCOffer, got[0].Type, "drain preserves cache order")
	assert.Equal(t, types.MessageTypeWebRTCAnswer, got[1].Type)

	assert.Empty(t, c.Drain("s1", "u1"), "drain removes entries")
}

func TestCacheIsScopedPerSessionAndUser(t *testing.T) {
	c := NewSignalCache(time.Minute)
	defer c.Stop()

	c.Put("s1", "u1", types.NewEnvelope(types.MessageTypeWebRTCOffer, map[string]interface{}{"n": 1}))
	c.Put("s1", "u2", types.NewEnvelope(types.MessageTypeWebRTCOffer, map[string]interface{}{"n": 2}))
	c.Put("s2", "u1", types.NewEnvelope(types.MessageTypeWebRTCOffer, map[string]interface{}{"n": 3}))

	assert.Len(t, c.Drain("s1", "u1"), 1)
	assert.Len(t, c.Drain("s1", "u2"), 1)
	assert.Len(t, c.Drain("s2", "u1"), 1)
}

func TestCacheExpiry(t *testing.T) {
	c := NewSignalCache(20 * time.Millisecond)
	defer c.Stop()

	c.Put("s1", "u1", types.NewEnvelope(types.MessageTypeWebRTCOffer, nil))
	time.Sleep(40 * time.Millisecond)

	assert.Empty(t, c.Drain("s1", "u1"), "expired signals must not be returned")
}

func TestCachePurge(t *testing.T) {
	c := NewSignalCache(10 * time.Millisecond)
	defer c.Stop()

	c.Put("s1", "u1", types.NewEnvelope(types.MessageTypeWebRTCOffer, nil))
	c.Put("s2", "u2", types.NewEnvelope(types.MessageTypeWebRTCAnswer, nil))
	require.Equal(t, 2, c.Len())

	time.Sleep(20 * time.Millisecond)
	c.purge(time.Now())
	assert.Equal(t, 0, c.Len())
}

func TestCacheStopIsIdempotent(t *testing.T) {
	c := NewSignalCache(time.Minute)
	c.Stop()
	c.Stop()
}
