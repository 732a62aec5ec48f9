package stimulator

import (
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/stimlink/go-magstim/protocol"
	"github.com/stimlink/go-magstim/transport"
)

type deviceVariant int

const (
	variantMagstim deviceVariant = iota
	variantBiStim
	variantRapid
)

// virtualDevice simulates a stimulator behind the transport.Channel
// interface. Replies are produced synchronously on Write and drained by
// Read, with knobs for dropping or corrupting replies and failing writes.
type virtualDevice struct {
	mu sync.Mutex

	variant    deviceVariant
	revision   int
	unlockCode string // accepted credential; checked only at revision 9+

	remote   bool
	unlocked bool
	armed    bool
	ready    bool
	fault    bool

	// readyAfter is how many exchanges after arming the unit needs before
	// reporting ready; armedCountdown tracks the remainder
	readyAfter     int
	armedCountdown int
	fired          int

	// trigger is the hardware trigger line level (RTS on a real port)
	trigger bool

	power, powerB, interval         int
	freqTenths, npulses, durTenths  int
	waitTenths, chargeDelay, coil   int
	enhanced, highRes, ignoreCoilSw bool

	pending []byte
	writes  [][]byte
	closed  bool

	dropReplies    int // swallow the next n commands silently
	corruptReplies int // flip the checksum of the next n replies
	writeErr       error
}

func newVirtualDevice(variant deviceVariant, revision int) *virtualDevice {
	return &virtualDevice{
		variant:    variant,
		revision:   revision,
		readyAfter: 1,
		power:      30,
		freqTenths: 100, // 10 Hz x 1 s = 10 pulses, mutually consistent
		npulses:    10,
		durTenths:  10,
		waitTenths: 10,
	}
}

func (d *virtualDevice) Write(frame []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return errors.New("virtual device: write on closed channel")
	}
	if d.writeErr != nil {
		err := d.writeErr
		d.writeErr = nil
		return err
	}

	cp := make([]byte, len(frame))
	copy(cp, frame)
	d.writes = append(d.writes, cp)

	if d.dropReplies > 0 {
		d.dropReplies--
		return nil
	}

	reply := d.handle(frame)
	if d.corruptReplies > 0 && len(reply) > 0 {
		d.corruptReplies--
		reply[len(reply)-1] ^= 0xFF
	}
	d.pending = append(d.pending, reply...)
	return nil
}

func (d *virtualDevice) Read(max int, timeout time.Duration) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil, errors.New("virtual device: read on closed channel")
	}
	if len(d.pending) == 0 {
		return nil, transport.ErrReadTimeout
	}
	n := max
	if n > len(d.pending) {
		n = len(d.pending)
	}
	chunk := make([]byte, n)
	copy(chunk, d.pending[:n])
	d.pending = d.pending[n:]
	return chunk, nil
}

func (d *virtualDevice) Flush() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pending = nil
	return nil
}

func (d *virtualDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return errors.New("virtual device: double close")
	}
	d.closed = true
	return nil
}

// SetTriggerPin models the hardware trigger input: a rising edge while ready
// discharges the coil without a command frame.
func (d *virtualDevice) SetTriggerPin(high bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return errors.New("virtual device: trigger on closed channel")
	}
	if high && !d.trigger && d.ready {
		d.fired++
		d.ready = false
		d.armed = true
		d.armedCountdown = d.readyAfter
	}
	d.trigger = high
	return nil
}

func (d *virtualDevice) triggerHigh() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.trigger
}

func (d *virtualDevice) writeCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.writes)
}

func (d *virtualDevice) firedCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.fired
}

func (d *virtualDevice) setFault(fault bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fault = fault
}

func (d *virtualDevice) setDropReplies(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dropReplies = n
}

func (d *virtualDevice) setCorruptReplies(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.corruptReplies = n
}

// plainChannel strips the trigger-pin capability off a device, modelling a
// link without a usable RTS line.
type plainChannel struct {
	dev *virtualDevice
}

func (c *plainChannel) Write(frame []byte) error { return c.dev.Write(frame) }
func (c *plainChannel) Read(max int, timeout time.Duration) ([]byte, error) {
	return c.dev.Read(max, timeout)
}
func (c *plainChannel) Flush() error { return c.dev.Flush() }
func (c *plainChannel) Close() error { return c.dev.Close() }

// handle produces the reply for one command frame. Called with d.mu held.
func (d *virtualDevice) handle(frame []byte) []byte {
	if len(frame) < 2 {
		return []byte{protocol.MarkerInvalidCommand}
	}

	code := frame[0]

	// The unlock credential exchange is the one frame without a checksum.
	if code == protocol.CmdEnableRemote && frame[1] != protocol.NoField {
		if d.revision >= 9 && string(frame[1:]) != d.unlockCode {
			return protocol.Encode([]byte{code, protocol.MarkerInvalidCommand})
		}
		d.remote = true
		d.unlocked = true
		return d.statusReply(code)
	}

	if protocol.Checksum(frame[:len(frame)-1]) != frame[len(frame)-1] {
		return []byte{protocol.MarkerInvalidCommand}
	}

	// One exchange of settling time between armed and ready.
	if d.armed && !d.ready && code != protocol.CmdLifecycle {
		d.armedCountdown--
		if d.armedCountdown <= 0 {
			d.armed = false
			d.ready = true
		}
	}

	data := frame[1 : len(frame)-1]

	switch code {
	case protocol.CmdEnableRemote:
		d.remote = true
		return d.statusReply(code)

	case protocol.CmdDisableRemote:
		d.remote = false
		d.armed = false
		d.ready = false
		return d.statusReply(code)

	case protocol.CmdLifecycle:
		return d.lifecycle(code, data[0])

	case protocol.CmdSetPower:
		return d.setIntField(code, data, &d.power, false)

	case protocol.CmdSetPowerB:
		return d.setIntField(code, data, &d.powerB, false)

	case protocol.CmdSetPulseInterval:
		return d.setIntField(code, data, &d.interval, false)

	case protocol.CmdSetFrequency:
		return d.setIntField(code, data, &d.freqTenths, true)

	case protocol.CmdSetNPulses:
		return d.setIntField(code, data, &d.npulses, true)

	case protocol.CmdSetDuration:
		return d.setIntField(code, data, &d.durTenths, true)

	case protocol.CmdGetParameters:
		body := fmt.Sprintf("%03d%03d%03d", d.power, d.powerB, d.interval)
		return d.payloadReply(code, body)

	case protocol.CmdGetRapidParameters:
		return d.rapidParametersReply(code)

	case protocol.CmdGetTemperature:
		return d.payloadReply(code, "215198")

	case protocol.CmdGetVersion:
		payload := append([]byte{code}, []byte(fmt.Sprintf("%d.0", d.revision))...)
		payload = append(payload, 0)
		return protocol.Encode(payload)

	case protocol.CmdGetSystemStatus:
		payload := []byte{code, d.statusByte(), d.rapidByte(), d.extendedByte(), 0}
		return protocol.Encode(payload)

	case protocol.CmdSetChargeDelay:
		v, err := strconv.Atoi(string(data))
		if err != nil {
			return protocol.Encode([]byte{code, protocol.MarkerInvalidCommand})
		}
		d.chargeDelay = v
		return protocol.Encode([]byte{code, d.statusByte(), d.rapidByte(), d.extendedByte(), 0})

	case protocol.CmdGetChargeDelay:
		return d.payloadReply(code, fmt.Sprintf("%05d", d.chargeDelay))

	case protocol.CmdGetErrorCode:
		return d.payloadReply(code, "S00")

	case protocol.CmdEnhancedPowerOn:
		d.enhanced = true
		return d.rapidStatusReply(code)

	case protocol.CmdEnhancedPowerOff:
		d.enhanced = false
		return d.rapidStatusReply(code)

	case protocol.CmdHighResOn:
		d.highRes = true
		return d.statusReply(code)

	case protocol.CmdHighResOff:
		d.highRes = false
		return d.statusReply(code)

	case protocol.CmdIgnoreInterlock:
		d.ignoreCoilSw = true
		return d.statusReply(code)

	case protocol.CmdSelectCoil:
		return d.setIntField(code, data, &d.coil, false)

	default:
		return []byte{protocol.MarkerInvalidCommand}
	}
}

func (d *virtualDevice) lifecycle(code, op byte) []byte {
	switch op {
	case protocol.LifecycleArm:
		if d.armed || d.ready {
			return protocol.Encode([]byte{code, protocol.MarkerConflict})
		}
		d.armed = true
		d.ready = false
		d.armedCountdown = d.readyAfter
	case protocol.LifecycleDisarm:
		d.armed = false
		d.ready = false
	case protocol.LifecycleFire:
		if !d.ready {
			return protocol.Encode([]byte{code, protocol.MarkerConflict})
		}
		d.fired++
		// Recharge: back to armed-not-ready until the countdown elapses.
		d.ready = false
		d.armed = true
		d.armedCountdown = d.readyAfter
	default:
		return protocol.Encode([]byte{code, protocol.MarkerInvalidCommand})
	}
	return d.statusReply(code)
}

// setIntField stores an ASCII numeric field, dropping readiness until the
// unit recharges. rapidReply selects the 4-byte rapid status reply shape.
func (d *virtualDevice) setIntField(code byte, data []byte, field *int, rapidReply bool) []byte {
	v, err := strconv.Atoi(string(data))
	if err != nil {
		return protocol.Encode([]byte{code, protocol.MarkerInvalidCommand})
	}
	*field = v
	if d.ready {
		d.ready = false
		d.armed = true
		d.armedCountdown = d.readyAfter
	}
	if rapidReply {
		return d.rapidStatusReply(code)
	}
	return d.statusReply(code)
}

func (d *virtualDevice) statusByte() byte {
	var b byte
	if !d.armed && !d.ready {
		b |= protocol.StatusStandby
	}
	if d.armed {
		b |= protocol.StatusArmed
	}
	if d.ready {
		b |= protocol.StatusReady
	}
	b |= protocol.StatusCoilPresent
	if d.fault {
		b |= protocol.StatusErrorPresent
	}
	if d.remote {
		b |= protocol.StatusRemote
	}
	return b
}

func (d *virtualDevice) rapidByte() byte {
	var b byte
	if d.enhanced {
		b |= protocol.RapidEnhancedPower
	}
	if d.ready {
		b |= protocol.RapidCoilReady
	}
	b |= protocol.RapidHVPSU
	return b
}

func (d *virtualDevice) extendedByte() byte {
	var b byte
	if d.chargeDelay > 0 {
		b |= protocol.ExtChargeDelaySet
	}
	return b
}

func (d *virtualDevice) statusReply(code byte) []byte {
	return protocol.Encode([]byte{code, d.statusByte()})
}

func (d *virtualDevice) rapidStatusReply(code byte) []byte {
	return protocol.Encode([]byte{code, d.statusByte(), d.rapidByte()})
}

// payloadReply builds echo + status + ASCII body + checksum.
func (d *virtualDevice) payloadReply(code byte, body string) []byte {
	payload := append([]byte{code, d.statusByte()}, []byte(body)...)
	return protocol.Encode(payload)
}

func (d *virtualDevice) rapidParametersReply(code byte) []byte {
	var body string
	switch {
	case d.revision >= 9:
		body = fmt.Sprintf("%03d%04d%05d%04d%04d", d.power, d.freqTenths, d.npulses, d.durTenths, d.waitTenths)
	case d.revision >= 7:
		body = fmt.Sprintf("%03d%04d%04d%03d%04d", d.power, d.freqTenths, d.npulses, d.durTenths, d.waitTenths)
	default:
		body = fmt.Sprintf("%03d%04d%04d%03d%03d", d.power, d.freqTenths, d.npulses, d.durTenths, d.waitTenths)
	}
	payload := append([]byte{code, d.statusByte(), d.rapidByte()}, []byte(body)...)
	return protocol.Encode(payload)
}
