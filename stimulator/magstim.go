package stimulator

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/stimlink/go-magstim/protocol"
	"github.com/stimlink/go-magstim/transport"
)

// maxPowerPercent is the standard intensity ceiling. Rapid units raise it to
// 110 in enhanced power mode.
const maxPowerPercent = 100

// Magstim drives a 200-series single-pulse unit. It is the base facade the
// BiStim and Rapid types build on.
//
// A Magstim is safe for concurrent use after creation.
type Magstim struct {
	sess *session
	ka   *keepAlive
	cfg  Config
	log  zerolog.Logger
}

// New creates a facade over the channel. The channel must not be shared with
// another session.
//
// Example:
//
//	ch, _ := transport.Open(transport.DefaultConfig("/dev/ttyUSB0"))
//	dev := stimulator.New(ch,
//	    stimulator.WithLogger(logger),
//	    stimulator.WithReplyTimeout(500*time.Millisecond),
//	)
func New(ch transport.Channel, opts ...Option) *Magstim {
	if ch == nil {
		panic("channel cannot be nil")
	}

	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	sess := newSession(ch, cfg)
	return &Magstim{
		sess: sess,
		ka:   newKeepAlive(sess, cfg),
		cfg:  cfg,
		log:  cfg.Logger,
	}
}

// Connect claims remote control of the unit and starts the keep-alive
// coordinator. The session moves to Disarmed. A facade that has been
// disconnected cannot reconnect; Connect returns ErrSessionClosed.
func (m *Magstim) Connect() error {
	return m.connect(nil)
}

// connect runs the shared handshake; setup, when non-nil, runs between the
// remote-control grant and the keep-alive start (the Rapid version query and
// unlock live there).
func (m *Magstim) connect(setup func() error) error {
	if st := m.sess.machine.current(); st != StateDisconnected {
		return &InvalidStateError{Op: "connect", State: st}
	}
	if m.ka.stopped() {
		// The coordinator cannot restart once joined and the channel is
		// closed; without this check a reconnect would run without keep-alive.
		return ErrSessionClosed
	}

	resp, err := m.sess.exchange(protocol.BuildEnableRemoteCmd())
	if err != nil {
		return fmt.Errorf("enable remote control: %w", err)
	}
	if !resp.Status.Remote {
		return fmt.Errorf("device did not grant remote control")
	}

	if setup != nil {
		if err := setup(); err != nil {
			// Leave the unit under local control rather than half-connected.
			if _, derr := m.sess.exchange(protocol.BuildDisableRemoteCmd()); derr != nil {
				m.log.Warn().Err(derr).Msg("failed to release remote control after aborted connect")
			}
			return err
		}
	}

	if err := m.sess.machine.transitionTo(StateDisarmed, "connect"); err != nil {
		return err
	}
	m.ka.start()
	m.log.Info().Msg("connected")
	return nil
}

// Disconnect stops the keep-alive coordinator, disarms the unit if needed,
// releases remote control and closes the channel. Safe to call more than
// once; only the first call touches the device.
func (m *Magstim) Disconnect() error {
	if m.sess.machine.current() == StateDisconnected {
		return nil
	}

	// Join the coordinator first so the channel is quiescent; an in-flight
	// poke completes before stop returns.
	m.ka.stop()

	if m.sess.machine.current().armed() {
		if _, err := m.sess.exchange(protocol.BuildDisarmCmd()); err != nil {
			m.log.Warn().Err(err).Msg("disarm before disconnect failed")
		}
	}
	if _, err := m.sess.exchange(protocol.BuildDisableRemoteCmd()); err != nil {
		m.log.Warn().Err(err).Msg("release of remote control failed")
	}

	m.sess.machine.forceTo(StateDisconnected, "disconnect")
	err := m.sess.ch.Close()
	m.log.Info().Msg("disconnected")
	return err
}

// Poke renews the remote control grant immediately. It is the one command
// allowed while the control-uncertain condition is raised; a successful Poke
// clears it.
func (m *Magstim) Poke() error {
	if st := m.sess.machine.current(); st == StateDisconnected {
		return &InvalidStateError{Op: "poke", State: st}
	}
	_, err := m.sess.exchange(protocol.BuildPokeCmd(m.ka.extended))
	return err
}

// GetParameters queries the unit's current settings.
func (m *Magstim) GetParameters() (protocol.MagstimParameters, error) {
	if err := m.gate("query parameters"); err != nil {
		return protocol.MagstimParameters{}, err
	}
	resp, err := m.sess.exchange(protocol.BuildGetParametersCmd())
	if err != nil {
		return protocol.MagstimParameters{}, err
	}
	return *resp.Magstim, nil
}

// SetPower sets the stimulation intensity in percent. With delay set, the
// call sleeps briefly after the acknowledgement so the capacitors settle
// before the next command. Changing power while armed drops the ready flag
// until the unit recharges.
func (m *Magstim) SetPower(power int, delay bool) error {
	return m.setPower(protocol.CmdSetPower, power, maxPowerPercent, delay)
}

func (m *Magstim) setPower(channel byte, power, max int, delay bool) error {
	if err := m.gate("set power"); err != nil {
		return err
	}
	if power < 0 || power > max {
		return &InvalidParameterError{
			Name:   "power",
			Value:  power,
			Reason: fmt.Sprintf("must be between 0 and %d percent", max),
		}
	}
	switch st := m.sess.machine.current(); st {
	case StateDisarmed, StateArmedNotReady, StateArmedReady:
	default:
		return &InvalidStateError{Op: "set power", State: st}
	}

	cmd, err := protocol.BuildSetPowerCmd(channel, power)
	if err != nil {
		return err
	}
	if _, err := m.sess.exchange(cmd); err != nil {
		return err
	}
	if delay {
		time.Sleep(m.cfg.PowerSettleDelay)
	}
	return nil
}

// GetTemperature queries the coil winding temperatures. The unit disarms
// itself above 40 degrees Celsius.
func (m *Magstim) GetTemperature() (protocol.Temperature, error) {
	if err := m.gate("query temperature"); err != nil {
		return protocol.Temperature{}, err
	}
	resp, err := m.sess.exchange(protocol.BuildGetTemperatureCmd())
	if err != nil {
		return protocol.Temperature{}, err
	}
	return *resp.Temperature, nil
}

// Arm charges the discharge circuitry. Legal from Disarmed, and from Faulted
// as the re-arm attempt that clears a recovered fault. With delay set, Arm
// sleeps for the settle period before returning, so an immediate
// IsReadyToFire poll is meaningful. Readiness itself is observed from status
// flags on subsequent exchanges, not granted by Arm.
func (m *Magstim) Arm(delay bool) error {
	if err := m.gate("arm"); err != nil {
		return err
	}
	prev := m.sess.machine.current()
	if err := m.sess.machine.transitionTo(StateArming, "arm"); err != nil {
		return err
	}

	resp, err := m.sess.exchange(protocol.BuildArmCmd())
	if err != nil {
		m.sess.machine.forceTo(prev, "arm failed")
		return err
	}
	if resp.Status.Fault() {
		return &FaultedError{ErrorType: resp.Status.ErrorType}
	}

	if delay {
		time.Sleep(m.cfg.ArmSettleDelay)
		// Refresh readiness after the settle period.
		if _, err := m.sess.exchange(protocol.BuildPokeCmd(m.ka.extended)); err != nil {
			return err
		}
	}
	return nil
}

// Disarm discharges and disarms the unit. Legal from any connected state.
func (m *Magstim) Disarm() error {
	st := m.sess.machine.current()
	if st == StateDisconnected {
		return &InvalidStateError{Op: "disarm", State: st}
	}
	if err := m.sess.checkControl(); err != nil {
		return err
	}
	if st.armed() || st == StateFaulted {
		m.sess.machine.forceTo(StateDisarming, "disarm")
	}

	resp, err := m.sess.exchange(protocol.BuildDisarmCmd())
	if err != nil {
		return err
	}
	if resp.Status.Fault() {
		return &FaultedError{ErrorType: resp.Status.ErrorType}
	}
	return nil
}

// Fire triggers a discharge. Legal only from ArmedReady; any other state is
// rejected before a single byte reaches the channel. The returned flags
// reflect the unit's post-discharge status (ready again, or recharging).
func (m *Magstim) Fire() (protocol.StatusFlags, error) {
	if err := m.gate("fire"); err != nil {
		return protocol.StatusFlags{}, err
	}
	switch st := m.sess.machine.current(); st {
	case StateArmedReady:
	case StateFaulted:
		return protocol.StatusFlags{}, &FaultedError{}
	default:
		return protocol.StatusFlags{}, &NotReadyError{State: st}
	}

	if err := m.sess.machine.transitionTo(StateFiring, "fire"); err != nil {
		return protocol.StatusFlags{}, err
	}
	resp, err := m.sess.exchange(protocol.BuildFireCmd())
	if err != nil {
		m.sess.machine.forceTo(StateArmedNotReady, "fire failed")
		return protocol.StatusFlags{}, err
	}
	if resp.Status.Fault() {
		return resp.Status, &FaultedError{ErrorType: resp.Status.ErrorType}
	}
	return resp.Status, nil
}

// QuickFire triggers a discharge through the channel's hardware trigger line
// instead of the fire command, skipping the serial round trip. The unit
// triggers on the line's rising edge, so the line must be released with
// ResetQuickFire before the next QuickFire. Requires a channel implementing
// transport.TriggerPinner; the same readiness rules as Fire apply.
func (m *Magstim) QuickFire() error {
	pin, ok := m.sess.ch.(transport.TriggerPinner)
	if !ok {
		return ErrNoHardwareTrigger
	}
	if err := m.gate("quick fire"); err != nil {
		return err
	}
	switch st := m.sess.machine.current(); st {
	case StateArmedReady:
	case StateFaulted:
		return &FaultedError{}
	default:
		return &NotReadyError{State: st}
	}

	if err := pin.SetTriggerPin(true); err != nil {
		return &ChannelFailure{Op: "quick fire", Err: err}
	}
	// There is no reply to observe; the next exchange picks up the recharge
	// status from the device.
	m.sess.machine.forceTo(StateArmedNotReady, "quick fire")
	return nil
}

// ResetQuickFire releases the trigger line, re-arming the edge for the next
// QuickFire. Legal in any connected state.
func (m *Magstim) ResetQuickFire() error {
	pin, ok := m.sess.ch.(transport.TriggerPinner)
	if !ok {
		return ErrNoHardwareTrigger
	}
	if st := m.sess.machine.current(); st == StateDisconnected {
		return &InvalidStateError{Op: "reset quick fire", State: st}
	}
	if err := pin.SetTriggerPin(false); err != nil {
		return &ChannelFailure{Op: "reset quick fire", Err: err}
	}
	return nil
}

// IsArmed queries the unit and reports whether it is armed (or ready).
func (m *Magstim) IsArmed() (bool, error) {
	resp, err := m.status()
	if err != nil {
		return false, err
	}
	return resp.Status.Armed || resp.Status.Ready, nil
}

// IsReadyToFire queries the unit and reports whether it can fire immediately.
func (m *Magstim) IsReadyToFire() (bool, error) {
	resp, err := m.status()
	if err != nil {
		return false, err
	}
	return resp.Status.Ready, nil
}

// IsUnderControl queries the unit and reports whether the remote control
// grant is still held.
func (m *Magstim) IsUnderControl() (bool, error) {
	resp, err := m.status()
	if err != nil {
		return false, err
	}
	return resp.Status.Remote, nil
}

// State returns the session's view of the device lifecycle. It does not
// touch the device.
func (m *Magstim) State() State {
	return m.sess.machine.current()
}

func (m *Magstim) status() (*protocol.Response, error) {
	if st := m.sess.machine.current(); st == StateDisconnected {
		return nil, &InvalidStateError{Op: "query status", State: st}
	}
	return m.sess.exchange(protocol.BuildPokeCmd(m.ka.extended))
}

// gate rejects foreground commands while disconnected or while the remote
// control grant is uncertain. Runs before any I/O.
func (m *Magstim) gate(op string) error {
	if st := m.sess.machine.current(); st == StateDisconnected {
		return &InvalidStateError{Op: op, State: st}
	}
	return m.sess.checkControl()
}
