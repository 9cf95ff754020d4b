package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBucketExactAdmissions(t *testing.T) {
	l := New(Config{
		GlobalPerWindow: 3,
		PhonePerWindow:  100,
		ConvPerWindow:   100,
		Window:          200 * time.Millisecond,
	})
	defer l.Close()

	for i := 0; i < 3; i++ {
		assert.True(t, l.Allow("", ""), "admission %d", i)
	}
	assert.False(t, l.Allow("", ""), "fourth admission within the window")

	time.Sleep(250 * time.Millisecond)
	assert.True(t, l.Allow("", ""), "bucket full again after the window")
}

func TestPhoneTierShortCircuits(t *testing.T) {
	l := New(Config{
		GlobalPerWindow: 100,
		PhonePerWindow:  2,
		ConvPerWindow:   100,
		Window:          time.Minute,
	})
	defer l.Close()

	assert.True(t, l.Allow("+15550001", "CHa"))
	assert.True(t, l.Allow("+15550001", "CHa"))
	assert.False(t, l.Allow("+15550001", "CHa"))

	// A different source is unaffected.
	assert.True(t, l.Allow("+15550002", "CHb"))
}

func TestConversationTier(t *testing.T) {
	l := New(Config{
		GlobalPerWindow: 100,
		PhonePerWindow:  100,
		ConvPerWindow:   1,
		Window:          time.Minute,
	})
	defer l.Close()

	assert.True(t, l.Allow("+15550001", "CHa"))
	assert.False(t, l.Allow("+15550001", "CHa"))
	assert.True(t, l.Allow("+15550001", "CHb"))
}

func TestPhoneBucketIdleSelfDestruct(t *testing.T) {
	l := New(Config{
		GlobalPerWindow: 100,
		PhonePerWindow:  1,
		Window:          time.Hour,
		PhoneTTL:        50 * time.Millisecond,
	})
	defer l.Close()

	assert.True(t, l.Allow("+15550001", ""))
	assert.False(t, l.Allow("+15550001", ""))

	l.mu.Lock()
	assert.Len(t, l.phones, 1)
	l.mu.Unlock()

	time.Sleep(120 * time.Millisecond)

	l.mu.Lock()
	assert.Empty(t, l.phones, "idle phone bucket should self-destruct")
	l.mu.Unlock()
}

func TestConvBucketDiesWhileActive(t *testing.T) {
	l := New(Config{
		GlobalPerWindow: 1000,
		ConvPerWindow:   1000,
		Window:          time.Hour,
		ConvTTL:         60 * time.Millisecond,
	})
	defer l.Close()

	deadline := time.Now().Add(150 * time.Millisecond)
	for time.Now().Before(deadline) {
		l.Allow("", "CHbusy")
		time.Sleep(5 * time.Millisecond)
	}

	// The bucket was touched continuously, yet its fixed lifetime passed.
	// The last Allow calls recreated it, so give the timer room to fire.
	time.Sleep(80 * time.Millisecond)
	l.mu.Lock()
	assert.Empty(t, l.convs)
	l.mu.Unlock()
}

func TestCloseStopsAdmissions(t *testing.T) {
	l := New(Config{})
	assert.True(t, l.Allow("+15550001", "CHa"))
	l.Close()
	assert.False(t, l.Allow("+15550001", "CHa"))
	l.Close()
}
