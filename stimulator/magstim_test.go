package stimulator

import (
	"errors"
	"testing"
	"time"
)

func TestFullSessionScenario(t *testing.T) {
	dev := newVirtualDevice(variantMagstim, 5)
	m := New(dev, quiet()...)

	if err := m.Connect(); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if got := m.State(); got != StateDisarmed {
		t.Fatalf("state after connect = %s, want Disarmed", got)
	}

	if err := m.SetPower(65, false); err != nil {
		t.Fatalf("set power: %v", err)
	}
	params, err := m.GetParameters()
	if err != nil {
		t.Fatalf("get parameters: %v", err)
	}
	if params.Power != 65 {
		t.Errorf("power = %d, want 65", params.Power)
	}

	if err := m.Arm(false); err != nil {
		t.Fatalf("arm: %v", err)
	}
	if got := m.State(); got != StateArmedNotReady {
		t.Fatalf("state after arm = %s, want ArmedNotReady", got)
	}

	waitFor(t, time.Second, func() bool {
		ready, err := m.IsReadyToFire()
		if err != nil {
			t.Fatalf("readiness poll: %v", err)
		}
		return ready
	})
	if got := m.State(); got != StateArmedReady {
		t.Fatalf("state after readiness = %s, want ArmedReady", got)
	}

	flags, err := m.Fire()
	if err != nil {
		t.Fatalf("fire: %v", err)
	}
	if flags.Fault() {
		t.Errorf("post-fire status reports a fault: %+v", flags)
	}
	if got := dev.firedCount(); got != 1 {
		t.Errorf("discharges = %d, want 1", got)
	}

	if err := m.Disarm(); err != nil {
		t.Fatalf("disarm: %v", err)
	}
	if got := m.State(); got != StateDisarmed {
		t.Fatalf("state after disarm = %s, want Disarmed", got)
	}

	if err := m.Disconnect(); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	if got := m.State(); got != StateDisconnected {
		t.Fatalf("state after disconnect = %s, want Disconnected", got)
	}
}

func TestFireRejectedOutsideArmedReady(t *testing.T) {
	dev := newVirtualDevice(variantMagstim, 5)
	m := New(dev, quiet()...)

	if err := m.Connect(); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer m.Disconnect()

	tests := []struct {
		name    string
		prepare func() error
	}{
		{"disarmed", func() error { return nil }},
		{"armed not ready", func() error { return m.Arm(false) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.prepare(); err != nil {
				t.Fatalf("prepare: %v", err)
			}

			before := dev.writeCount()
			_, err := m.Fire()
			var notReady *NotReadyError
			if !errors.As(err, &notReady) {
				t.Fatalf("error = %v, want NotReadyError", err)
			}
			if got := dev.writeCount(); got != before {
				t.Errorf("%d bytes written for a rejected fire, want 0", got-before)
			}

			if err := m.Disarm(); err != nil {
				t.Fatalf("disarm: %v", err)
			}
		})
	}
}

func TestSetPowerRejectsOutOfRange(t *testing.T) {
	dev := newVirtualDevice(variantMagstim, 5)
	m := New(dev, quiet()...)

	if err := m.Connect(); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer m.Disconnect()

	for _, power := range []int{-1, 101, 999} {
		before := dev.writeCount()
		err := m.SetPower(power, false)
		var invalid *InvalidParameterError
		if !errors.As(err, &invalid) {
			t.Fatalf("SetPower(%d) error = %v, want InvalidParameterError", power, err)
		}
		if got := dev.writeCount(); got != before {
			t.Errorf("SetPower(%d): %d writes, want 0", power, got-before)
		}
	}
}

func TestOperationsRejectedWhileDisconnected(t *testing.T) {
	dev := newVirtualDevice(variantMagstim, 5)
	m := New(dev, quiet()...)

	ops := map[string]func() error{
		"arm":    func() error { return m.Arm(false) },
		"disarm": m.Disarm,
		"fire":   func() error { _, err := m.Fire(); return err },
		"set power": func() error {
			return m.SetPower(50, false)
		},
		"get parameters": func() error {
			_, err := m.GetParameters()
			return err
		},
	}

	for name, op := range ops {
		err := op()
		var invalid *InvalidStateError
		if !errors.As(err, &invalid) {
			t.Errorf("%s while disconnected: error = %v, want InvalidStateError", name, err)
		}
	}
	if got := dev.writeCount(); got != 0 {
		t.Errorf("%d writes while disconnected, want 0", got)
	}
}

func TestFaultIsStickyUntilReArm(t *testing.T) {
	dev := newVirtualDevice(variantMagstim, 5)
	m := New(dev, quiet()...)

	if err := m.Connect(); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer m.Disconnect()

	if err := m.Arm(false); err != nil {
		t.Fatalf("arm: %v", err)
	}

	dev.setFault(true)
	if err := m.Poke(); err != nil {
		t.Fatalf("poke: %v", err)
	}
	if got := m.State(); got != StateFaulted {
		t.Fatalf("state after fault flag = %s, want Faulted", got)
	}

	// Clearing the device-side condition is not enough; the session holds
	// the fault until an explicit recovery.
	dev.setFault(false)
	if err := m.Poke(); err != nil {
		t.Fatalf("poke: %v", err)
	}
	if got := m.State(); got != StateFaulted {
		t.Fatalf("state after clean status = %s, want Faulted (sticky)", got)
	}

	fireBefore := dev.writeCount()
	if _, err := m.Fire(); err == nil {
		t.Fatal("fire from Faulted did not fail")
	}
	if got := dev.writeCount(); got != fireBefore {
		t.Errorf("%d writes for a rejected fire, want 0", got-fireBefore)
	}

	// Recover: disarm, then re-arm.
	if err := m.Disarm(); err != nil {
		t.Fatalf("disarm: %v", err)
	}
	if got := m.State(); got != StateDisarmed {
		t.Fatalf("state after recovery disarm = %s, want Disarmed", got)
	}
	if err := m.Arm(false); err != nil {
		t.Fatalf("re-arm: %v", err)
	}
	if got := m.State(); !got.armed() {
		t.Fatalf("state after re-arm = %s, want an armed state", got)
	}
}

func TestArmWithDelayPollsReadiness(t *testing.T) {
	dev := newVirtualDevice(variantMagstim, 5)
	m := New(dev, append(quiet(), WithArmSettleDelay(time.Millisecond))...)

	if err := m.Connect(); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer m.Disconnect()

	if err := m.Arm(true); err != nil {
		t.Fatalf("arm: %v", err)
	}
	// The settle-poll already observed the ready flag.
	if got := m.State(); got != StateArmedReady {
		t.Fatalf("state after arm(delay) = %s, want ArmedReady", got)
	}
}

func TestGetTemperature(t *testing.T) {
	dev := newVirtualDevice(variantMagstim, 5)
	m := New(dev, quiet()...)

	if err := m.Connect(); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer m.Disconnect()

	temp, err := m.GetTemperature()
	if err != nil {
		t.Fatalf("get temperature: %v", err)
	}
	if temp.Coil1 != 21.5 || temp.Coil2 != 19.8 {
		t.Errorf("temperature = %+v, want 21.5/19.8", temp)
	}
}

func TestQuickFireTriggersThroughPin(t *testing.T) {
	dev := newVirtualDevice(variantMagstim, 5)
	m := New(dev, quiet()...)

	if err := m.Connect(); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer m.Disconnect()

	if err := m.Arm(false); err != nil {
		t.Fatalf("arm: %v", err)
	}
	waitFor(t, time.Second, func() bool {
		ready, err := m.IsReadyToFire()
		if err != nil {
			t.Fatalf("readiness poll: %v", err)
		}
		return ready
	})

	before := dev.writeCount()
	if err := m.QuickFire(); err != nil {
		t.Fatalf("quick fire: %v", err)
	}
	if got := dev.writeCount(); got != before {
		t.Errorf("%d frames written for a quick fire, want 0", got-before)
	}
	if got := dev.firedCount(); got != 1 {
		t.Errorf("discharges = %d, want 1", got)
	}
	if !dev.triggerHigh() {
		t.Error("trigger line not asserted")
	}
	if got := m.State(); got != StateArmedNotReady {
		t.Errorf("state after quick fire = %s, want ArmedNotReady", got)
	}

	if err := m.ResetQuickFire(); err != nil {
		t.Fatalf("reset quick fire: %v", err)
	}
	if dev.triggerHigh() {
		t.Error("trigger line still asserted after reset")
	}
}

func TestQuickFireRejectedWhenNotReady(t *testing.T) {
	dev := newVirtualDevice(variantMagstim, 5)
	m := New(dev, quiet()...)

	if err := m.Connect(); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer m.Disconnect()

	err := m.QuickFire()
	var notReady *NotReadyError
	if !errors.As(err, &notReady) {
		t.Fatalf("error = %v, want NotReadyError", err)
	}
	if got := dev.firedCount(); got != 0 {
		t.Errorf("discharges = %d, want 0", got)
	}
	if dev.triggerHigh() {
		t.Error("trigger line asserted for a rejected quick fire")
	}
}

func TestQuickFireNeedsTriggerCapableChannel(t *testing.T) {
	dev := newVirtualDevice(variantMagstim, 5)
	m := New(&plainChannel{dev: dev}, quiet()...)

	if err := m.Connect(); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer m.Disconnect()

	if err := m.QuickFire(); !errors.Is(err, ErrNoHardwareTrigger) {
		t.Fatalf("quick fire: error = %v, want ErrNoHardwareTrigger", err)
	}
	if err := m.ResetQuickFire(); !errors.Is(err, ErrNoHardwareTrigger) {
		t.Fatalf("reset quick fire: error = %v, want ErrNoHardwareTrigger", err)
	}
}

func TestConnectAfterDisconnectRejected(t *testing.T) {
	dev := newVirtualDevice(variantMagstim, 5)
	m := New(dev, quiet()...)

	if err := m.Connect(); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := m.Disconnect(); err != nil {
		t.Fatalf("disconnect: %v", err)
	}

	// The keep-alive coordinator cannot restart, so a reconnect on the same
	// facade must fail outright rather than produce an unpoked session.
	before := dev.writeCount()
	if err := m.Connect(); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("reconnect: error = %v, want ErrSessionClosed", err)
	}
	if got := dev.writeCount(); got != before {
		t.Errorf("%d writes for a rejected reconnect, want 0", got-before)
	}
	if got := m.State(); got != StateDisconnected {
		t.Errorf("state = %s, want Disconnected", got)
	}
}

func TestConnectTwiceRejected(t *testing.T) {
	dev := newVirtualDevice(variantMagstim, 5)
	m := New(dev, quiet()...)

	if err := m.Connect(); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer m.Disconnect()

	err := m.Connect()
	var invalid *InvalidStateError
	if !errors.As(err, &invalid) {
		t.Fatalf("second connect: error = %v, want InvalidStateError", err)
	}
}
