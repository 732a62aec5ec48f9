package stimulator

import (
	"errors"
	"testing"
	"time"
)

// waitFor polls cond until it returns true or the deadline expires.
func waitFor(t *testing.T, d time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestKeepAlivePokesIdleSession(t *testing.T) {
	dev := newVirtualDevice(variantMagstim, 5)
	m := New(dev, WithPokeIntervals(5*time.Millisecond, 5*time.Millisecond))

	if err := m.Connect(); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer m.Disconnect()

	before := dev.writeCount()
	waitFor(t, time.Second, func() bool {
		return dev.writeCount() > before+2
	})
}

func TestKeepAliveSkipsTickWhileForegroundHoldsChannel(t *testing.T) {
	dev := newVirtualDevice(variantMagstim, 5)
	m := New(dev, WithPokeIntervals(5*time.Millisecond, 5*time.Millisecond))

	if err := m.Connect(); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer m.Disconnect()

	// Simulate a long foreground transaction by holding the session mutex.
	// Every tick in the window must skip rather than queue behind it.
	m.sess.mu.Lock()
	before := dev.writeCount()
	time.Sleep(60 * time.Millisecond)
	during := dev.writeCount()
	m.sess.mu.Unlock()

	if during != before {
		t.Errorf("%d pokes issued while the channel was held, want 0", during-before)
	}
}

func TestKeepAliveFailuresRaiseControlUncertain(t *testing.T) {
	dev := newVirtualDevice(variantMagstim, 5)
	m := New(dev,
		WithPokeIntervals(5*time.Millisecond, 5*time.Millisecond),
		WithReplyTimeout(20*time.Millisecond),
		WithPokeFailureLimit(3),
	)

	if err := m.Connect(); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer m.Disconnect()

	dev.setDropReplies(1 << 20)
	waitFor(t, 2*time.Second, func() bool {
		_, err := m.GetParameters()
		var uncertain *ControlUncertainError
		return errors.As(err, &uncertain)
	})

	// Restore the device and re-establish control explicitly.
	dev.setDropReplies(0)
	if err := m.Poke(); err != nil {
		t.Fatalf("poke: %v", err)
	}
	if _, err := m.GetParameters(); err != nil {
		t.Fatalf("parameters after recovery: %v", err)
	}
}

func TestKeepAliveStopsBeforeChannelCloses(t *testing.T) {
	dev := newVirtualDevice(variantMagstim, 5)
	m := New(dev, WithPokeIntervals(5*time.Millisecond, 5*time.Millisecond))

	if err := m.Connect(); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := m.Disconnect(); err != nil {
		t.Fatalf("disconnect: %v", err)
	}

	// The coordinator is joined before the channel closes, so no tick can
	// race the closed channel: the write count must stay frozen.
	after := dev.writeCount()
	time.Sleep(50 * time.Millisecond)
	if got := dev.writeCount(); got != after {
		t.Errorf("%d writes after disconnect, want none", got-after)
	}

	// Second disconnect is a no-op, not a double close.
	if err := m.Disconnect(); err != nil {
		t.Fatalf("second disconnect: %v", err)
	}
}

func TestStopWithoutStartReturns(t *testing.T) {
	dev := newVirtualDevice(variantMagstim, 5)
	sess := newSession(dev, defaultConfig())
	ka := newKeepAlive(sess, defaultConfig())

	done := make(chan struct{})
	go func() {
		ka.stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("stop blocked on a coordinator that never started")
	}
}
