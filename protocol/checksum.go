package protocol

// Func computes a frame checksum byte. The codec treats the checksum as a
// pluggable component so it can be unit tested (and swapped) on its own.
type Func func(data []byte) byte

// Checksum computes the Magstim frame checksum: the bitwise inverse of the
// 8-bit sum of all frame bytes before the checksum position.
//
// The checksum covers every byte of the frame, command code included, and is
// computed identically for command and response frames.
func Checksum(data []byte) byte {
	var sum byte
	for _, b := range data {
		sum += b
	}
	return ^sum
}
