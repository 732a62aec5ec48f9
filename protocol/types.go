package protocol

// ReplyKind identifies the shape of the reply a command produces, which
// drives both the read loop and field decoding.
type ReplyKind int

const (
	// ReplyStatus is echo + instrument status + checksum
	ReplyStatus ReplyKind = iota

	// ReplyRapidStatus adds the Rapid status byte
	ReplyRapidStatus

	// ReplySystemStatus adds the Rapid and extended status bytes (revision 9+)
	ReplySystemStatus

	// ReplyParameters is the 200-series single-power parameter reply
	ReplyParameters

	// ReplyBiStimParameters is the BiStim dual-power parameter reply
	ReplyBiStimParameters

	// ReplyRapidParameters is the Rapid parameter reply; its length varies
	// with firmware revision
	ReplyRapidParameters

	// ReplyTemperature is the coil temperature reply
	ReplyTemperature

	// ReplyVersion is the NUL-terminated firmware version reply
	ReplyVersion

	// ReplyChargeDelay is the charge delay query reply
	ReplyChargeDelay

	// ReplyErrorCode is the hardware error code reply
	ReplyErrorCode
)

// Command is a fully framed outgoing command plus the shape of the reply the
// device will send for it. Frames are only ever constructed through the
// builders in this package.
type Command struct {
	// Frame is the complete wire frame, checksum included (unless Raw)
	Frame []byte

	// Code is the command code the device echoes back
	Code byte

	// Kind selects how the reply payload is decoded
	Kind ReplyKind

	// ReplyLen is the expected reply length in bytes, echo and checksum
	// included; zero for terminator-driven replies (ReplyVersion)
	ReplyLen int

	// Raw marks frames transmitted without the trailing checksum byte
	// (the unlock credential exchange only)
	Raw bool
}

// StatusFlags is the decoded instrument status byte, common to all units.
type StatusFlags struct {
	Standby      bool
	Armed        bool
	Ready        bool
	CoilPresent  bool
	ReplaceCoil  bool
	ErrorPresent bool
	ErrorType    bool
	Remote       bool
}

// Fault reports whether the status carries a condition that makes the unit
// unsafe to operate (coil replacement required or a hardware error).
func (s StatusFlags) Fault() bool {
	return s.ReplaceCoil || s.ErrorPresent
}

// RapidFlags is the decoded second status byte on Rapid units.
type RapidFlags struct {
	EnhancedPowerMode     bool
	Train                 bool
	Wait                  bool
	SinglePulseMode       bool
	HVPSUConnected        bool
	CoilReady             bool
	ThetaPSUDetected      bool
	ModifiedCoilAlgorithm bool
}

// ExtendedFlags is the decoded extended status byte (Rapid revision 9+).
type ExtendedFlags struct {
	Plus1ModuleDetected bool
	SpecialTriggerMode  bool
	ChargeDelaySet      bool
}

// MagstimParameters are the settings reported by a 200-series unit.
type MagstimParameters struct {
	// Power is the stimulation intensity in percent of maximum output
	Power int
}

// BiStimParameters are the settings reported by a BiStim unit.
type BiStimParameters struct {
	PowerA int
	PowerB int

	// PulseInterval is the interpulse interval in device resolution units
	// (1 ms, or 0.1 ms in high-resolution mode)
	PulseInterval int
}

// RapidParameters are the settings reported by a Rapid unit.
type RapidParameters struct {
	Power int

	// Frequency is the train frequency in Hz
	Frequency float64

	// NPulses is the number of pulses per train
	NPulses int

	// Duration is the train duration in seconds
	Duration float64

	// Wait is the minimum inter-train wait in seconds
	Wait float64
}

// Temperature holds the two coil winding temperatures in degrees Celsius.
// Units disarm automatically above 40 degrees.
type Temperature struct {
	Coil1 float64
	Coil2 float64
}

// Version is the firmware version reported by a Rapid unit. Only Major is
// ever interpreted (as the ordered revision number used for protocol rules).
type Version struct {
	Major int
	Minor int
	Patch int
}

// Revision returns the major number, the value protocol rules key on.
func (v Version) Revision() int { return v.Major }

// Response is a decoded reply. Status is populated for every reply shape
// except ReplyVersion; the remaining fields follow the originating Command's
// ReplyKind.
type Response struct {
	Code   byte
	Status StatusFlags

	Rapid    *RapidFlags
	Extended *ExtendedFlags

	Magstim         *MagstimParameters
	BiStim          *BiStimParameters
	RapidParameters *RapidParameters
	Temperature     *Temperature
	Version         *Version

	// ChargeDelay is the post-train charge delay in seconds (ReplyChargeDelay)
	ChargeDelay int

	// ErrorCode is the device's current hardware error code (ReplyErrorCode)
	ErrorCode string
}
