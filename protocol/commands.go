package protocol

import "fmt"

// Encode frames a command payload by appending the checksum byte. The
// payload is the command code plus its data fields.
func Encode(payload []byte) []byte {
	frame := make([]byte, 0, len(payload)+1)
	frame = append(frame, payload...)
	frame = append(frame, Checksum(payload))
	return frame
}

// zeroPadded renders v as a fixed-width ASCII decimal field.
func zeroPadded(v, digits int) ([]byte, error) {
	if v < 0 {
		return nil, fmt.Errorf("field value %d is negative", v)
	}
	s := fmt.Sprintf("%0*d", digits, v)
	if len(s) != digits {
		return nil, fmt.Errorf("field value %d does not fit in %d digits", v, digits)
	}
	return []byte(s), nil
}

// command builds a checksummed Command from a code and literal field bytes.
func command(kind ReplyKind, replyLen int, code byte, fields ...byte) Command {
	payload := append([]byte{code}, fields...)
	return Command{
		Frame:    Encode(payload),
		Code:     code,
		Kind:     kind,
		ReplyLen: replyLen,
	}
}

// BuildEnableRemoteCmd constructs the claim-remote-control command.
//
// Frame structure:
//
//	[CODE='Q']['@'][CHECKSUM]
func BuildEnableRemoteCmd() Command {
	return command(ReplyStatus, StatusReplyLen, CmdEnableRemote, NoField)
}

// BuildUnlockCmd constructs the unlock credential exchange used by Rapid
// units at firmware revision 9 and later. Unlike every other command the
// credential frame carries no checksum byte; the code itself authenticates
// the frame. The caller is responsible for validating the code's shape.
//
// Frame structure:
//
//	[CODE='Q'][CODE CHARS...]
func BuildUnlockCmd(code string) Command {
	return Command{
		Frame:    append([]byte{CmdEnableRemote}, code...),
		Code:     CmdEnableRemote,
		Kind:     ReplyStatus,
		ReplyLen: StatusReplyLen,
		Raw:      true,
	}
}

// BuildDisableRemoteCmd constructs the relinquish-remote-control command.
// The unit disarms itself before releasing control.
func BuildDisableRemoteCmd() Command {
	return command(ReplyStatus, StatusReplyLen, CmdDisableRemote, NoField)
}

// BuildPokeCmd constructs the keep-alive command that renews the remote
// control grant. Units with an extended status page (unlocked Rapids) are
// poked with the system status query instead of the plain enable command.
func BuildPokeCmd(extended bool) Command {
	if extended {
		return BuildGetSystemStatusCmd()
	}
	return BuildEnableRemoteCmd()
}

// BuildArmCmd constructs the arm command. The unit needs around a second of
// settling time after acknowledging before it can report ready.
//
// Frame structure:
//
//	[CODE='E']['B'][CHECKSUM]
func BuildArmCmd() Command {
	return command(ReplyStatus, StatusReplyLen, CmdLifecycle, LifecycleArm)
}

// BuildDisarmCmd constructs the disarm command.
func BuildDisarmCmd() Command {
	return command(ReplyStatus, StatusReplyLen, CmdLifecycle, LifecycleDisarm)
}

// BuildFireCmd constructs the fire command. Only succeeds on an armed unit.
func BuildFireCmd() Command {
	return command(ReplyStatus, StatusReplyLen, CmdLifecycle, LifecycleFire)
}

// BuildSetPowerCmd constructs a power-level command. code selects the
// channel: CmdSetPower for 200-series/Rapid/BiStim A, CmdSetPowerB for
// BiStim B. The power value is in percent and must fit the 3-digit field;
// range validation against the unit's limits is the caller's concern.
//
// Frame structure:
//
//	[CODE][POWER(3)][CHECKSUM]
func BuildSetPowerCmd(code byte, power int) (Command, error) {
	if code != CmdSetPower && code != CmdSetPowerB {
		return Command{}, fmt.Errorf("invalid power channel code 0x%02X", code)
	}
	field, err := zeroPadded(power, PowerDigits)
	if err != nil {
		return Command{}, err
	}
	return command(ReplyStatus, StatusReplyLen, code, field...), nil
}

// BuildSetPulseIntervalCmd constructs the BiStim interpulse interval command.
// The interval is in device resolution units (1 ms, or 0.1 ms in
// high-resolution mode).
func BuildSetPulseIntervalCmd(interval int) (Command, error) {
	field, err := zeroPadded(interval, PulseIntervalDigits)
	if err != nil {
		return Command{}, err
	}
	return command(ReplyStatus, StatusReplyLen, CmdSetPulseInterval, field...), nil
}

// BuildSetFrequencyCmd constructs the Rapid train frequency command. The
// value is in tenths of Hz.
func BuildSetFrequencyCmd(tenths int) (Command, error) {
	field, err := zeroPadded(tenths, FrequencyDigits)
	if err != nil {
		return Command{}, err
	}
	return command(ReplyRapidStatus, RapidStatusReplyLen, CmdSetFrequency, field...), nil
}

// BuildSetNPulsesCmd constructs the Rapid pulse-count command. digits is the
// revision-dependent field width (NPulsesDigitsV5 or NPulsesDigitsV9).
func BuildSetNPulsesCmd(n, digits int) (Command, error) {
	field, err := zeroPadded(n, digits)
	if err != nil {
		return Command{}, err
	}
	return command(ReplyRapidStatus, RapidStatusReplyLen, CmdSetNPulses, field...), nil
}

// BuildSetDurationCmd constructs the Rapid train duration command. The value
// is in tenths of a second; digits is the revision-dependent field width
// (DurationDigitsV5 or DurationDigitsV9).
func BuildSetDurationCmd(tenths, digits int) (Command, error) {
	field, err := zeroPadded(tenths, digits)
	if err != nil {
		return Command{}, err
	}
	return command(ReplyRapidStatus, RapidStatusReplyLen, CmdSetDuration, field...), nil
}

// BuildGetParametersCmd constructs the 200-series parameter query.
func BuildGetParametersCmd() Command {
	return command(ReplyParameters, ParametersReplyLen, CmdGetParameters, NoField)
}

// BuildGetBiStimParametersCmd constructs the BiStim parameter query. Same
// wire command as BuildGetParametersCmd; the reply carries both power levels
// and the interpulse interval.
func BuildGetBiStimParametersCmd() Command {
	return command(ReplyBiStimParameters, ParametersReplyLen, CmdGetParameters, NoField)
}

// BuildGetRapidParametersCmd constructs the Rapid parameter query. replyLen
// is the revision-dependent reply length (one of the
// RapidParametersReplyLenV* constants).
func BuildGetRapidParametersCmd(replyLen int) Command {
	return command(ReplyRapidParameters, replyLen, CmdGetRapidParameters, NoField)
}

// BuildGetTemperatureCmd constructs the coil temperature query.
func BuildGetTemperatureCmd() Command {
	return command(ReplyTemperature, TemperatureReplyLen, CmdGetTemperature, NoField)
}

// BuildGetVersionCmd constructs the firmware version query. The reply is
// NUL-terminated rather than fixed length.
func BuildGetVersionCmd() Command {
	return command(ReplyVersion, 0, CmdGetVersion, 'D')
}

// BuildGetSystemStatusCmd constructs the extended status query (revision 9+).
func BuildGetSystemStatusCmd() Command {
	return command(ReplySystemStatus, SystemStatusReplyLen, CmdGetSystemStatus, NoField)
}

// BuildSetChargeDelayCmd constructs the charge delay set command
// (revision 11+). The delay is in seconds.
func BuildSetChargeDelayCmd(seconds int) (Command, error) {
	field, err := zeroPadded(seconds, ChargeDelayDigits)
	if err != nil {
		return Command{}, err
	}
	return command(ReplySystemStatus, SystemStatusReplyLen, CmdSetChargeDelay, field...), nil
}

// BuildGetChargeDelayCmd constructs the charge delay query (revision 11+).
func BuildGetChargeDelayCmd() Command {
	return command(ReplyChargeDelay, ChargeDelayReplyLen, CmdGetChargeDelay, NoField)
}

// BuildGetErrorCodeCmd constructs the hardware error code query (Rapid).
func BuildGetErrorCodeCmd() Command {
	return command(ReplyErrorCode, ErrorCodeReplyLen, CmdGetErrorCode, NoField)
}

// BuildEnhancedPowerCmd constructs the enhanced power mode toggle (Rapid).
func BuildEnhancedPowerCmd(enable bool) Command {
	code := byte(CmdEnhancedPowerOff)
	if enable {
		code = CmdEnhancedPowerOn
	}
	return command(ReplyRapidStatus, RapidStatusReplyLen, code, NoField)
}

// BuildHighResolutionCmd constructs the BiStim interval resolution toggle.
func BuildHighResolutionCmd(enable bool) Command {
	code := byte(CmdHighResOff)
	if enable {
		code = CmdHighResOn
	}
	return command(ReplyStatus, StatusReplyLen, code, NoField)
}

// BuildIgnoreInterlockCmd constructs the coil interlock override (Rapid).
func BuildIgnoreInterlockCmd() Command {
	return command(ReplyStatus, StatusReplyLen, CmdIgnoreInterlock, NoField)
}

// BuildSelectCoilCmd constructs the active coil module selection command for
// multi-coil systems.
func BuildSelectCoilCmd(coil int) (Command, error) {
	field, err := zeroPadded(coil, CoilDigits)
	if err != nil {
		return Command{}, err
	}
	return command(ReplyStatus, StatusReplyLen, CmdSelectCoil, field...), nil
}
