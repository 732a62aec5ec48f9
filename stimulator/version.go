package stimulator

import (
	"math"
	"regexp"

	"github.com/stimlink/go-magstim/protocol"
)

// Ruleset is the revision-dependent behaviour table for a Rapid unit. All
// revision branching lives here; the facades consult the table instead of
// testing version numbers inline.
type Ruleset struct {
	Revision int

	// UnlockRequired: the unit refuses train parameter control until the
	// unlock credential exchange succeeds (revision 9+)
	UnlockRequired bool

	// ExtendedStatus: the unit answers the extended system status query, and
	// the keep-alive poke uses it (revision 9+)
	ExtendedStatus bool

	// ChargeDelay: the charge delay get/set commands exist (revision 11+)
	ChargeDelay bool

	// ParametersReplyLen is the Rapid parameter reply length for this revision
	ParametersReplyLen int

	// NPulsesDigits and DurationDigits are the wire field widths, which widen
	// at revision 9
	NPulsesDigits  int
	DurationDigits int
}

// RulesFor resolves the rule set for a firmware revision (the major version
// number).
func RulesFor(revision int) Ruleset {
	r := Ruleset{
		Revision:           revision,
		ParametersReplyLen: protocol.RapidParametersReplyLenV5,
		NPulsesDigits:      protocol.NPulsesDigitsV5,
		DurationDigits:     protocol.DurationDigitsV5,
	}
	if revision >= 7 {
		r.ParametersReplyLen = protocol.RapidParametersReplyLenV7
	}
	if revision >= 9 {
		r.UnlockRequired = true
		r.ExtendedStatus = true
		r.ParametersReplyLen = protocol.RapidParametersReplyLenV9
		r.NPulsesDigits = protocol.NPulsesDigitsV9
		r.DurationDigits = protocol.DurationDigitsV9
	}
	if revision >= 11 {
		r.ChargeDelay = true
	}
	return r
}

// FrequencyToWire converts a frequency in Hz to the tenths-of-Hz wire value.
// The wire carries tenths on every revision; values finer than a tenth are
// rejected.
func (r Ruleset) FrequencyToWire(hz float64) (int, error) {
	return r.toTenths("frequency", hz)
}

// DurationToWire converts a train duration in seconds to the
// tenths-of-a-second wire value under the same resolution rule.
func (r Ruleset) DurationToWire(seconds float64) (int, error) {
	return r.toTenths("duration", seconds)
}

func (r Ruleset) toTenths(name string, v float64) (int, error) {
	if v < 0 {
		return 0, &InvalidParameterError{Name: name, Value: v, Reason: "must not be negative"}
	}
	tenths := v * 10
	if math.Abs(tenths-math.Round(tenths)) > 1e-9 {
		return 0, &InvalidParameterError{Name: name, Value: v, Reason: "at most one decimal place"}
	}
	return int(math.Round(tenths)), nil
}

// unlockCodePattern is the required credential shape: hyphen-delimited
// groups of digits, as printed on the unit's unlock card.
var unlockCodePattern = regexp.MustCompile(`^\d+(-\d+)+$`)

// ValidateUnlockCode checks the credential's shape before it is ever placed
// in a frame.
func ValidateUnlockCode(code string) error {
	if !unlockCodePattern.MatchString(code) {
		return &InvalidParameterError{
			Name:   "unlock code",
			Value:  code,
			Reason: "must be hyphen-delimited numeric groups",
		}
	}
	return nil
}
