package protocol

import (
	"fmt"
	"strconv"
	"strings"
)

// Decode validates a raw reply frame against its originating Command and
// interprets the payload fields.
//
// Validation order: device-reported error markers (which have their own
// short shapes), frame length, checksum, echo byte. No field is interpreted
// as data until the checksum has validated, so a truncated or garbled frame
// can never surface as a plausible low value.
func Decode(cmd Command, frame []byte) (*Response, error) {
	if len(frame) == 0 {
		return nil, &MalformedFrameError{Len: 0, Want: cmd.ReplyLen}
	}

	// A lone '?' means the command code itself was not recognised.
	if frame[0] == MarkerInvalidCommand && len(frame) == 1 {
		return nil, &DeviceError{Code: CodeInvalidCommand}
	}

	// Echo followed by '?' or 'S' is a short rejection reply: the data field
	// was invalid, or the command conflicts with the current settings.
	if len(frame) == MinReplyLen {
		switch frame[1] {
		case MarkerInvalidCommand:
			return nil, &DeviceError{Code: CodeInvalidData}
		case MarkerConflict:
			return nil, &DeviceError{Code: CodeConflict}
		}
	}

	if cmd.Kind == ReplyVersion {
		// 'N' + at least one version character + terminator + checksum
		if len(frame) < 4 {
			return nil, &MalformedFrameError{Len: len(frame), Want: 4}
		}
	} else if len(frame) != cmd.ReplyLen {
		return nil, &MalformedFrameError{Len: len(frame), Want: cmd.ReplyLen}
	}

	want := Checksum(frame[:len(frame)-1])
	if got := frame[len(frame)-1]; got != want {
		return nil, &ChecksumMismatchError{Want: want, Got: got}
	}

	if frame[0] != cmd.Code {
		return nil, &DeviceError{Code: CodeConfirmationMismatch}
	}

	body := frame[1 : len(frame)-1]
	resp := &Response{Code: frame[0]}

	switch cmd.Kind {
	case ReplyStatus:
		resp.Status = parseStatus(body[0])

	case ReplyRapidStatus:
		resp.Status = parseStatus(body[0])
		rapid := parseRapid(body[1])
		resp.Rapid = &rapid

	case ReplySystemStatus:
		resp.Status = parseStatus(body[0])
		rapid := parseRapid(body[1])
		resp.Rapid = &rapid
		ext := parseExtended(body[2])
		resp.Extended = &ext

	case ReplyParameters:
		resp.Status = parseStatus(body[0])
		power, err := atoiField(body[1:4])
		if err != nil {
			return nil, err
		}
		resp.Magstim = &MagstimParameters{Power: power}

	case ReplyBiStimParameters:
		resp.Status = parseStatus(body[0])
		fields := body[1:]
		powerA, err := atoiField(fields[0:3])
		if err != nil {
			return nil, err
		}
		powerB, err := atoiField(fields[3:6])
		if err != nil {
			return nil, err
		}
		interval, err := atoiField(fields[6:9])
		if err != nil {
			return nil, err
		}
		resp.BiStim = &BiStimParameters{PowerA: powerA, PowerB: powerB, PulseInterval: interval}

	case ReplyRapidParameters:
		resp.Status = parseStatus(body[0])
		rapid := parseRapid(body[1])
		resp.Rapid = &rapid
		params, err := parseRapidParameters(body[2:])
		if err != nil {
			return nil, err
		}
		resp.RapidParameters = params

	case ReplyTemperature:
		resp.Status = parseStatus(body[0])
		coil1, err := atoiField(body[1:4])
		if err != nil {
			return nil, err
		}
		coil2, err := atoiField(body[4:7])
		if err != nil {
			return nil, err
		}
		resp.Temperature = &Temperature{Coil1: float64(coil1) / 10, Coil2: float64(coil2) / 10}

	case ReplyVersion:
		v, err := parseVersion(body)
		if err != nil {
			return nil, err
		}
		resp.Version = v

	case ReplyChargeDelay:
		resp.Status = parseStatus(body[0])
		delay, err := atoiField(body[1:])
		if err != nil {
			return nil, err
		}
		resp.ChargeDelay = delay

	case ReplyErrorCode:
		resp.Status = parseStatus(body[0])
		resp.ErrorCode = strings.TrimSpace(string(body[1:]))

	default:
		return nil, fmt.Errorf("unknown reply kind %d", cmd.Kind)
	}

	return resp, nil
}

// parseRapidParameters decodes the Rapid parameter fields. The field widths
// depend on the firmware revision and are recovered from the payload length:
// 20 bytes (revision 9+), 18 (revision 7+) or 17 (older).
func parseRapidParameters(fields []byte) (*RapidParameters, error) {
	type layout struct {
		freqEnd, nEnd, durEnd int
	}
	var l layout
	switch len(fields) {
	case 20:
		l = layout{freqEnd: 7, nEnd: 12, durEnd: 16}
	case 18:
		l = layout{freqEnd: 7, nEnd: 11, durEnd: 14}
	case 17:
		l = layout{freqEnd: 7, nEnd: 11, durEnd: 14}
	default:
		return nil, &MalformedFrameError{Len: len(fields), Want: 20}
	}

	power, err := atoiField(fields[0:3])
	if err != nil {
		return nil, err
	}
	freq, err := atoiField(fields[3:l.freqEnd])
	if err != nil {
		return nil, err
	}
	nPulses, err := atoiField(fields[l.freqEnd:l.nEnd])
	if err != nil {
		return nil, err
	}
	duration, err := atoiField(fields[l.nEnd:l.durEnd])
	if err != nil {
		return nil, err
	}
	wait, err := atoiField(fields[l.durEnd:])
	if err != nil {
		return nil, err
	}

	return &RapidParameters{
		Power:     power,
		Frequency: float64(freq) / 10,
		NPulses:   nPulses,
		Duration:  float64(duration) / 10,
		Wait:      float64(wait) / 10,
	}, nil
}

// parseVersion decodes the NUL-terminated version payload ("N9.02\x00").
func parseVersion(body []byte) (*Version, error) {
	s := strings.TrimFunc(string(body), func(r rune) bool {
		return r == 0 || r == ' '
	})
	parts := strings.Split(s, ".")
	nums := make([]int, 0, 3)
	for _, p := range parts {
		p = strings.TrimSpace(p)
		n, err := strconv.Atoi(p)
		if err != nil {
			continue
		}
		nums = append(nums, n)
	}
	if len(nums) == 0 {
		return nil, fmt.Errorf("unparseable version string %q", s)
	}
	v := &Version{Major: nums[0]}
	if len(nums) > 1 {
		v.Minor = nums[1]
	}
	if len(nums) > 2 {
		v.Patch = nums[2]
	}
	return v, nil
}

func parseStatus(b byte) StatusFlags {
	return StatusFlags{
		Standby:      b&StatusStandby != 0,
		Armed:        b&StatusArmed != 0,
		Ready:        b&StatusReady != 0,
		CoilPresent:  b&StatusCoilPresent != 0,
		ReplaceCoil:  b&StatusReplaceCoil != 0,
		ErrorPresent: b&StatusErrorPresent != 0,
		ErrorType:    b&StatusErrorType != 0,
		Remote:       b&StatusRemote != 0,
	}
}

func parseRapid(b byte) RapidFlags {
	return RapidFlags{
		EnhancedPowerMode:     b&RapidEnhancedPower != 0,
		Train:                 b&RapidTrain != 0,
		Wait:                  b&RapidWait != 0,
		SinglePulseMode:       b&RapidSinglePulse != 0,
		HVPSUConnected:        b&RapidHVPSU != 0,
		CoilReady:             b&RapidCoilReady != 0,
		ThetaPSUDetected:      b&RapidThetaPSU != 0,
		ModifiedCoilAlgorithm: b&RapidModifiedCoil != 0,
	}
}

func parseExtended(b byte) ExtendedFlags {
	return ExtendedFlags{
		Plus1ModuleDetected: b&ExtPlus1Module != 0,
		SpecialTriggerMode:  b&ExtSpecialTrigger != 0,
		ChargeDelaySet:      b&ExtChargeDelaySet != 0,
	}
}

// atoiField parses a zero-padded ASCII numeric field.
func atoiField(b []byte) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(string(b)))
	if err != nil {
		return 0, fmt.Errorf("unparseable numeric field %q: %w", string(b), err)
	}
	return n, nil
}
