package protocol

// Command codes. Each is the first byte of a command frame and is echoed back
// as the first byte of the reply.
const (
	// CmdSetPower sets the (primary) power level, 3-digit field
	CmdSetPower = '@'

	// CmdSetPowerB sets the BiStim B power level, 3-digit field
	CmdSetPowerB = 'A'

	// CmdSetFrequency sets the rTMS train frequency in tenths of Hz, 4-digit field
	CmdSetFrequency = 'B'

	// CmdSetPulseInterval sets the BiStim interpulse interval, 3-digit field
	CmdSetPulseInterval = 'C'

	// CmdSetNPulses sets the rTMS train pulse count, 4- or 5-digit field
	CmdSetNPulses = 'D'

	// CmdLifecycle carries the arm/disarm/fire operations; the single data
	// byte selects which (see LifecycleArm et al.)
	CmdLifecycle = 'E'

	// CmdGetTemperature queries the coil winding temperatures
	CmdGetTemperature = 'F'

	// CmdGetErrorCode queries the current hardware error code (Rapid)
	CmdGetErrorCode = 'I'

	// CmdGetParameters queries parameter settings on 200-series and BiStim units
	CmdGetParameters = 'J'

	// CmdGetVersion queries the firmware version string (Rapid)
	CmdGetVersion = 'N'

	// CmdEnableRemote claims remote control of the unit
	CmdEnableRemote = 'Q'

	// CmdDisableRemote relinquishes remote control (disarms first)
	CmdDisableRemote = 'R'

	// CmdHighResOn enables tenth-of-ms interpulse interval resolution (BiStim)
	CmdHighResOn = 'Y'

	// CmdHighResOff restores 1 ms interpulse interval resolution (BiStim)
	CmdHighResOff = 'Z'

	// CmdSetDuration sets the rTMS train duration in tenths of a second,
	// 3- or 4-digit field
	CmdSetDuration = '['

	// CmdGetRapidParameters queries parameter settings on Rapid units
	CmdGetRapidParameters = '\\'

	// CmdEnhancedPowerOn enables enhanced power mode (up to 110%)
	CmdEnhancedPowerOn = '^'

	// CmdEnhancedPowerOff disables enhanced power mode
	CmdEnhancedPowerOff = '_'

	// CmdIgnoreInterlock tells the unit to ignore the coil safety interlock switch
	CmdIgnoreInterlock = 'b'

	// CmdSetChargeDelay sets the post-train charge delay, 5-digit field
	CmdSetChargeDelay = 'n'

	// CmdGetChargeDelay queries the post-train charge delay
	CmdGetChargeDelay = 'o'

	// CmdGetSystemStatus queries the extended system status (Rapid, revision 9+)
	CmdGetSystemStatus = 'x'

	// CmdSelectCoil selects the active coil module on multi-coil systems,
	// 1-digit field
	CmdSelectCoil = 'y'
)

// Data bytes for CmdLifecycle.
const (
	// LifecycleDisarm discharges and disarms the unit
	LifecycleDisarm = 'A'

	// LifecycleArm charges the discharge circuitry
	LifecycleArm = 'B'

	// LifecycleFire triggers a discharge
	LifecycleFire = 'H'
)

// Reply marker bytes.
const (
	// MarkerInvalidCommand is returned alone when the command code is unknown
	MarkerInvalidCommand = '?'

	// MarkerConflict follows the echo when the command conflicts with the
	// current system configuration
	MarkerConflict = 'S'

	// NoField is the placeholder data byte for commands without a value ('@')
	NoField = '@'
)

// Instrument status bits (first status byte, all units).
const (
	StatusStandby      = 1 << 0
	StatusArmed        = 1 << 1
	StatusReady        = 1 << 2
	StatusCoilPresent  = 1 << 3
	StatusReplaceCoil  = 1 << 4
	StatusErrorPresent = 1 << 5
	StatusErrorType    = 1 << 6
	StatusRemote       = 1 << 7
)

// Rapid status bits (second status byte, Rapid units).
const (
	RapidEnhancedPower = 1 << 0
	RapidTrain         = 1 << 1
	RapidWait          = 1 << 2
	RapidSinglePulse   = 1 << 3
	RapidHVPSU         = 1 << 4
	RapidCoilReady     = 1 << 5
	RapidThetaPSU      = 1 << 6
	RapidModifiedCoil  = 1 << 7
)

// Extended status bits (third status byte, Rapid revision 9+).
const (
	ExtPlus1Module    = 1 << 0
	ExtSpecialTrigger = 1 << 1
	ExtChargeDelaySet = 1 << 2
)

// Reply lengths in bytes, echo and checksum included.
const (
	// StatusReplyLen is the standard echo+status+checksum reply
	StatusReplyLen = 3

	// RapidStatusReplyLen adds the Rapid status byte
	RapidStatusReplyLen = 4

	// SystemStatusReplyLen adds the Rapid and extended status bytes
	SystemStatusReplyLen = 6

	// ParametersReplyLen is the 200-series/BiStim parameter reply:
	// echo + status + three 3-digit fields + checksum
	ParametersReplyLen = 12

	// TemperatureReplyLen is echo + status + two 3-digit fields + checksum
	TemperatureReplyLen = 9

	// ErrorCodeReplyLen is echo + status + 3-char code + checksum
	ErrorCodeReplyLen = 6

	// ChargeDelayReplyLen is echo + status + 5-digit field + checksum (revision 11+)
	ChargeDelayReplyLen = 8

	// MinReplyLen is the shortest well-formed reply (the lone '?' aside)
	MinReplyLen = 3
)

// Rapid parameter reply lengths by firmware revision. The payload widens
// twice: revision 7 adds a wait-time digit, revision 9 widens the pulse-count
// and duration fields.
const (
	RapidParametersReplyLenV5 = 21
	RapidParametersReplyLenV7 = 22
	RapidParametersReplyLenV9 = 24
)

// Numeric field widths.
const (
	PowerDigits         = 3
	PulseIntervalDigits = 3
	FrequencyDigits     = 4
	ChargeDelayDigits   = 5
	CoilDigits          = 1

	// NPulsesDigitsV5 / NPulsesDigitsV9 are the pulse-count field widths
	// below and at-or-above firmware revision 9
	NPulsesDigitsV5 = 4
	NPulsesDigitsV9 = 5

	// DurationDigitsV5 / DurationDigitsV9 likewise for train duration
	DurationDigitsV5 = 3
	DurationDigitsV9 = 4
)
