package stimulator

import (
	"fmt"
	"math"
	"sync"

	"github.com/stimlink/go-magstim/protocol"
	"github.com/stimlink/go-magstim/transport"
)

// Coarse declared ranges for Rapid train parameters. The per-power maximum
// frequency matrix in the device manual is not re-derived here; the device
// rejects illegal combinations with a settings conflict.
const (
	maxFrequencyHz          = 100.0
	maxTrainDuration        = 60.0 // seconds of continuous on-time
	maxEnhancedPowerPercent = 110
	maxChargeDelaySeconds   = 99999
	maxCoilIndex            = 9

	// minInterTrainWait is the documented minimum wait between trains
	minInterTrainWait = 0.5 // seconds
)

// SystemStatus is the decoded extended status page (revision 9+).
type SystemStatus struct {
	Status   protocol.StatusFlags
	Rapid    protocol.RapidFlags
	Extended protocol.ExtendedFlags
}

// Rapid drives a repetitive-train (rTMS) unit. On top of the base lifecycle
// it manages the train parameters (frequency, pulse count, duration), the
// firmware-revision rule set, and the unlock credential required from
// revision 9.
type Rapid struct {
	*Magstim

	mu          sync.Mutex
	version     protocol.Version
	rules       Ruleset
	haveVersion bool
	unlockCode  string
	unlocked    bool
	enhanced    bool
}

// NewRapid creates a repetitive-train facade over the channel.
func NewRapid(ch transport.Channel, opts ...Option) *Rapid {
	return &Rapid{Magstim: New(ch, opts...)}
}

// Unlock supplies the unit's unlock credential. Before Connect it is
// validated and stored for the connect handshake; on a connected session the
// credential exchange runs immediately. Revisions below 9 ignore it.
func (r *Rapid) Unlock(code string) error {
	if err := ValidateUnlockCode(code); err != nil {
		return err
	}

	r.mu.Lock()
	r.unlockCode = code
	connected := r.haveVersion && r.sess.machine.current() != StateDisconnected
	required := r.rules.UnlockRequired
	r.mu.Unlock()

	if !connected || !required {
		return nil
	}
	return r.sendUnlock(code)
}

// Connect claims remote control, queries and caches the firmware version,
// resolves the revision rule set, performs the unlock exchange when the
// revision requires one, and starts the keep-alive coordinator.
func (r *Rapid) Connect() error {
	return r.connect(r.setup)
}

func (r *Rapid) setup() error {
	resp, err := r.sess.exchange(protocol.BuildGetVersionCmd())
	if err != nil {
		return fmt.Errorf("query firmware version: %w", err)
	}

	rules := RulesFor(resp.Version.Revision())

	r.mu.Lock()
	r.version = *resp.Version
	r.rules = rules
	r.haveVersion = true
	code := r.unlockCode
	r.mu.Unlock()

	r.log.Info().
		Int("revision", rules.Revision).
		Bool("unlock_required", rules.UnlockRequired).
		Msg("firmware version resolved")

	if rules.UnlockRequired {
		if code == "" {
			return &InvalidParameterError{
				Name:   "unlock code",
				Value:  "",
				Reason: fmt.Sprintf("required on firmware revision %d", rules.Revision),
			}
		}
		if err := r.sendUnlock(code); err != nil {
			return err
		}
		// Unlocked units are poked with the extended status query.
		r.ka.extended = true
	}
	return nil
}

// sendUnlock runs the raw credential exchange. The frame carries no checksum
// byte; the credential itself authenticates it.
func (r *Rapid) sendUnlock(code string) error {
	resp, err := r.sess.exchange(protocol.BuildUnlockCmd(code))
	if err != nil {
		return fmt.Errorf("unlock: %w", err)
	}
	if !resp.Status.Remote {
		return fmt.Errorf("device rejected unlock code")
	}

	r.mu.Lock()
	r.unlocked = true
	r.mu.Unlock()
	return nil
}

// FirmwareVersion returns the version cached at connect.
func (r *Rapid) FirmwareVersion() (protocol.Version, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.haveVersion {
		return protocol.Version{}, &InvalidStateError{Op: "query firmware version", State: r.sess.machine.current()}
	}
	return r.version, nil
}

// GetParameters queries the train settings. The reply length depends on the
// firmware revision.
func (r *Rapid) GetParameters() (protocol.RapidParameters, error) {
	if err := r.gate("query parameters"); err != nil {
		return protocol.RapidParameters{}, err
	}
	rules, err := r.ruleset("query parameters")
	if err != nil {
		return protocol.RapidParameters{}, err
	}
	resp, err := r.sess.exchange(protocol.BuildGetRapidParametersCmd(rules.ParametersReplyLen))
	if err != nil {
		return protocol.RapidParameters{}, err
	}
	return *resp.RapidParameters, nil
}

// SetPower sets the stimulation intensity in percent, up to 110 in enhanced
// power mode.
func (r *Rapid) SetPower(power int, delay bool) error {
	max := maxPowerPercent
	r.mu.Lock()
	if r.enhanced {
		max = maxEnhancedPowerPercent
	}
	r.mu.Unlock()
	return r.setPower(protocol.CmdSetPower, power, max, delay)
}

// SetFrequency sets the train frequency in Hz. The device holds the train
// duration fixed, so the pulse count is recalculated to keep the three train
// parameters consistent. Only legal while disarmed.
func (r *Rapid) SetFrequency(hz float64) error {
	rules, err := r.trainSetterGate("set frequency")
	if err != nil {
		return err
	}
	if hz <= 0 || hz > maxFrequencyHz {
		return &InvalidParameterError{
			Name:   "frequency",
			Value:  hz,
			Reason: fmt.Sprintf("must be between 0 and %g Hz", maxFrequencyHz),
		}
	}
	wire, err := rules.FrequencyToWire(hz)
	if err != nil {
		return err
	}

	cmd, err := protocol.BuildSetFrequencyCmd(wire)
	if err != nil {
		return err
	}
	if _, err := r.sess.exchange(cmd); err != nil {
		return err
	}

	params, err := r.GetParameters()
	if err != nil {
		return err
	}
	return r.writeNPulses(rules, int(math.Round(params.Duration*hz)))
}

// SetNPulses sets the number of pulses per train, recalculating the duration
// from the current frequency. Only legal while disarmed.
func (r *Rapid) SetNPulses(n int) error {
	rules, err := r.trainSetterGate("set pulse count")
	if err != nil {
		return err
	}
	if n < 1 {
		return &InvalidParameterError{Name: "pulse count", Value: n, Reason: "must be at least 1"}
	}
	if err := r.writeNPulses(rules, n); err != nil {
		return err
	}

	params, err := r.GetParameters()
	if err != nil {
		return err
	}
	if params.Frequency <= 0 {
		return nil
	}
	return r.writeDuration(rules, quantizeDuration(float64(n)/params.Frequency))
}

// SetDuration sets the train duration in seconds, recalculating the pulse
// count from the current frequency. Only legal while disarmed.
func (r *Rapid) SetDuration(seconds float64) error {
	rules, err := r.trainSetterGate("set duration")
	if err != nil {
		return err
	}
	if seconds <= 0 || seconds > maxTrainDuration {
		return &InvalidParameterError{
			Name:   "duration",
			Value:  seconds,
			Reason: fmt.Sprintf("must be between 0 and %g seconds", maxTrainDuration),
		}
	}
	if err := r.writeDuration(rules, seconds); err != nil {
		return err
	}

	params, err := r.GetParameters()
	if err != nil {
		return err
	}
	return r.writeNPulses(rules, int(math.Round(seconds*params.Frequency)))
}

// SetTrain sets all three train parameters in one call, requiring them to be
// mutually consistent (frequency times duration equals the pulse count) so
// no intermediate recalculation is needed.
func (r *Rapid) SetTrain(hz float64, nPulses int, seconds float64) error {
	rules, err := r.trainSetterGate("set train")
	if err != nil {
		return err
	}
	if hz <= 0 || hz > maxFrequencyHz {
		return &InvalidParameterError{Name: "frequency", Value: hz, Reason: fmt.Sprintf("must be between 0 and %g Hz", maxFrequencyHz)}
	}
	if seconds <= 0 || seconds > maxTrainDuration {
		return &InvalidParameterError{Name: "duration", Value: seconds, Reason: fmt.Sprintf("must be between 0 and %g seconds", maxTrainDuration)}
	}
	if math.Abs(hz*seconds-float64(nPulses)) > 1e-6 {
		return &InvalidParameterError{
			Name:   "pulse count",
			Value:  nPulses,
			Reason: fmt.Sprintf("inconsistent with %g Hz for %g seconds", hz, seconds),
		}
	}

	freqWire, err := rules.FrequencyToWire(hz)
	if err != nil {
		return err
	}
	cmd, err := protocol.BuildSetFrequencyCmd(freqWire)
	if err != nil {
		return err
	}
	if _, err := r.sess.exchange(cmd); err != nil {
		return err
	}
	if err := r.writeNPulses(rules, nPulses); err != nil {
		return err
	}
	return r.writeDuration(rules, seconds)
}

// RTMSMode switches the unit between repetitive-train and single-pulse
// operation. The device keys off the programmed duration: a one-second train
// enables repetitive mode, a zero duration disables it. Enabling also raises
// a zero frequency to the 1 Hz minimum so the train is well formed. Only
// legal while disarmed.
func (r *Rapid) RTMSMode(enable bool) error {
	rules, err := r.trainSetterGate("set rTMS mode")
	if err != nil {
		return err
	}
	if !enable {
		return r.writeDuration(rules, 0)
	}

	if err := r.writeDuration(rules, 1); err != nil {
		return err
	}
	params, err := r.GetParameters()
	if err != nil {
		return err
	}
	if params.Frequency == 0 {
		return r.SetFrequency(1)
	}
	return nil
}

// ValidateSequence checks the configured train against the coarse safety
// limits: the on-time ceiling and the documented minimum inter-train wait.
// Fire runs it automatically; callers can run it early for a better error
// surface.
func (r *Rapid) ValidateSequence() error {
	params, err := r.GetParameters()
	if err != nil {
		return err
	}
	if params.Duration > maxTrainDuration {
		return &InvalidParameterError{
			Name:   "duration",
			Value:  params.Duration,
			Reason: fmt.Sprintf("exceeds the %g second on-time limit", maxTrainDuration),
		}
	}
	if params.Wait > 0 && params.Wait < minInterTrainWait {
		return &InvalidParameterError{
			Name:   "inter-train wait",
			Value:  params.Wait,
			Reason: fmt.Sprintf("below the %g second minimum", minInterTrainWait),
		}
	}
	return nil
}

// Fire triggers the configured train after validating it against the safety
// limits.
func (r *Rapid) Fire() (protocol.StatusFlags, error) {
	if err := r.ValidateSequence(); err != nil {
		return protocol.StatusFlags{}, err
	}
	return r.Magstim.Fire()
}

// GetSystemStatus queries the extended status page (revision 9+).
func (r *Rapid) GetSystemStatus() (SystemStatus, error) {
	if err := r.gate("query system status"); err != nil {
		return SystemStatus{}, err
	}
	rules, err := r.ruleset("query system status")
	if err != nil {
		return SystemStatus{}, err
	}
	if !rules.ExtendedStatus {
		return SystemStatus{}, &UnsupportedOnRevisionError{Feature: "system status", Revision: rules.Revision}
	}

	resp, err := r.sess.exchange(protocol.BuildGetSystemStatusCmd())
	if err != nil {
		return SystemStatus{}, err
	}
	return SystemStatus{Status: resp.Status, Rapid: *resp.Rapid, Extended: *resp.Extended}, nil
}

// SetChargeDelay sets the post-train charge delay in seconds (revision 11+).
func (r *Rapid) SetChargeDelay(seconds int) error {
	if err := r.gate("set charge delay"); err != nil {
		return err
	}
	rules, err := r.ruleset("set charge delay")
	if err != nil {
		return err
	}
	if !rules.ChargeDelay {
		return &UnsupportedOnRevisionError{Feature: "charge delay", Revision: rules.Revision}
	}
	if seconds < 0 || seconds > maxChargeDelaySeconds {
		return &InvalidParameterError{
			Name:   "charge delay",
			Value:  seconds,
			Reason: fmt.Sprintf("must be between 0 and %d seconds", maxChargeDelaySeconds),
		}
	}

	cmd, err := protocol.BuildSetChargeDelayCmd(seconds)
	if err != nil {
		return err
	}
	_, err = r.sess.exchange(cmd)
	return err
}

// GetChargeDelay queries the post-train charge delay (revision 11+).
func (r *Rapid) GetChargeDelay() (int, error) {
	if err := r.gate("query charge delay"); err != nil {
		return 0, err
	}
	rules, err := r.ruleset("query charge delay")
	if err != nil {
		return 0, err
	}
	if !rules.ChargeDelay {
		return 0, &UnsupportedOnRevisionError{Feature: "charge delay", Revision: rules.Revision}
	}

	resp, err := r.sess.exchange(protocol.BuildGetChargeDelayCmd())
	if err != nil {
		return 0, err
	}
	return resp.ChargeDelay, nil
}

// EnhancedPowerMode toggles the 110% intensity ceiling. Only legal while
// disarmed.
func (r *Rapid) EnhancedPowerMode(enable bool) error {
	if err := r.gate("set enhanced power mode"); err != nil {
		return err
	}
	if st := r.sess.machine.current(); st != StateDisarmed {
		return &InvalidStateError{Op: "set enhanced power mode", State: st}
	}

	if _, err := r.sess.exchange(protocol.BuildEnhancedPowerCmd(enable)); err != nil {
		return err
	}
	r.mu.Lock()
	r.enhanced = enable
	r.mu.Unlock()
	return nil
}

// IgnoreCoilInterlock tells the unit to ignore the coil safety interlock
// switch. Intended for bench setups without a handle switch.
func (r *Rapid) IgnoreCoilInterlock() error {
	if err := r.gate("ignore coil interlock"); err != nil {
		return err
	}
	_, err := r.sess.exchange(protocol.BuildIgnoreInterlockCmd())
	return err
}

// SelectCoil selects the active coil module on multi-coil systems. Only
// legal while disarmed.
func (r *Rapid) SelectCoil(coil int) error {
	if err := r.gate("select coil"); err != nil {
		return err
	}
	if coil < 0 || coil > maxCoilIndex {
		return &InvalidParameterError{
			Name:   "coil",
			Value:  coil,
			Reason: fmt.Sprintf("must be between 0 and %d", maxCoilIndex),
		}
	}
	if st := r.sess.machine.current(); st != StateDisarmed {
		return &InvalidStateError{Op: "select coil", State: st}
	}

	cmd, err := protocol.BuildSelectCoilCmd(coil)
	if err != nil {
		return err
	}
	_, err = r.sess.exchange(cmd)
	return err
}

// GetErrorCode queries the unit's current hardware error code.
func (r *Rapid) GetErrorCode() (string, error) {
	if err := r.gate("query error code"); err != nil {
		return "", err
	}
	resp, err := r.sess.exchange(protocol.BuildGetErrorCodeCmd())
	if err != nil {
		return "", err
	}
	return resp.ErrorCode, nil
}

// trainSetterGate is the shared precondition for the train parameter
// setters: connected, control certain, disarmed, rules resolved.
func (r *Rapid) trainSetterGate(op string) (Ruleset, error) {
	if err := r.gate(op); err != nil {
		return Ruleset{}, err
	}
	rules, err := r.ruleset(op)
	if err != nil {
		return Ruleset{}, err
	}
	if st := r.sess.machine.current(); st != StateDisarmed {
		return Ruleset{}, &InvalidStateError{Op: op, State: st}
	}
	return rules, nil
}

func (r *Rapid) ruleset(op string) (Ruleset, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.haveVersion {
		return Ruleset{}, &InvalidStateError{Op: op, State: r.sess.machine.current()}
	}
	return r.rules, nil
}

func (r *Rapid) writeNPulses(rules Ruleset, n int) error {
	cmd, err := protocol.BuildSetNPulsesCmd(n, rules.NPulsesDigits)
	if err != nil {
		return err
	}
	_, err = r.sess.exchange(cmd)
	return err
}

func (r *Rapid) writeDuration(rules Ruleset, seconds float64) error {
	wire, err := rules.DurationToWire(seconds)
	if err != nil {
		return err
	}
	cmd, err := protocol.BuildSetDurationCmd(wire, rules.DurationDigits)
	if err != nil {
		return err
	}
	_, err = r.sess.exchange(cmd)
	return err
}

// quantizeDuration rounds a derived duration to the wire's tenth-of-a-second
// resolution so the recalculated value is always encodable.
func quantizeDuration(seconds float64) float64 {
	return math.Round(seconds*10) / 10
}
