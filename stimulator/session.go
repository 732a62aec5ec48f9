package stimulator

import (
	"bytes"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/stimlink/go-magstim/protocol"
	"github.com/stimlink/go-magstim/transport"
)

// versionReadChunk is the read granularity for terminator-driven version
// replies, whose length is not known up front.
const versionReadChunk = 16

// session owns the channel and serialises exchanges on it. Exactly one
// transaction (flush + write + reply assembly) runs under the mutex at a
// time; it is never held across anything else.
type session struct {
	ch  transport.Channel
	cfg Config
	log zerolog.Logger

	// mu guards the channel for the duration of one transaction. The
	// keep-alive coordinator TryLocks it so foreground commands are never
	// queued behind a poke.
	mu sync.Mutex

	machine *stateMachine

	// ctrl guards the keep-alive failure accounting
	ctrl struct {
		sync.Mutex
		failures     int
		uncertain    bool
		lastExchange time.Time
	}
}

func newSession(ch transport.Channel, cfg Config) *session {
	return &session{
		ch:      ch,
		cfg:     cfg,
		log:     cfg.Logger,
		machine: newStateMachine(cfg.Logger),
	}
}

// exchange runs one request/response transaction under the session mutex.
func (s *session) exchange(cmd protocol.Command) (*protocol.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exchangeLocked(cmd)
}

// exchangeLocked is exchange for callers already holding the mutex (the
// keep-alive tick). The whole exchange is retried exactly once on a transport
// I/O error or a corrupted frame; never on a timeout (a silent device usually
// means lost control, and blind re-sends are unsafe) and never on a
// device-reported error.
func (s *session) exchangeLocked(cmd protocol.Command) (*protocol.Response, error) {
	resp, err := s.attempt(cmd)
	if err != nil && retryable(err) {
		s.log.Warn().
			Err(err).
			Str("command", fmt.Sprintf("%c", cmd.Code)).
			Msg("exchange failed, retrying once")
		resp, err = s.attempt(cmd)
	}
	if err != nil {
		var timeout *ResponseTimeoutError
		var devErr *protocol.DeviceError
		var checksum *protocol.ChecksumMismatchError
		var malformed *protocol.MalformedFrameError
		if errors.As(err, &timeout) || errors.As(err, &devErr) ||
			errors.As(err, &checksum) || errors.As(err, &malformed) {
			return nil, err
		}
		return nil, &ChannelFailure{Op: fmt.Sprintf("%c exchange", cmd.Code), Err: err}
	}

	if cmd.Kind != protocol.ReplyVersion {
		s.machine.observe(resp.Status)
	}
	s.noteSuccess()
	return resp, nil
}

// attempt is a single flush/write/read/decode pass.
func (s *session) attempt(cmd protocol.Command) (*protocol.Response, error) {
	if err := s.ch.Flush(); err != nil {
		return nil, fmt.Errorf("flush: %w", err)
	}
	if err := s.ch.Write(cmd.Frame); err != nil {
		return nil, fmt.Errorf("write: %w", err)
	}
	frame, err := s.readReply(cmd)
	if err != nil {
		return nil, err
	}
	return protocol.Decode(cmd, frame)
}

// readReply assembles the reply under a single transaction deadline. Replies
// are fixed length per command, except version replies which run to a NUL
// terminator plus the checksum byte. Device-error replies are shorter than
// the expected frame; they surface as partial reads that Decode classifies.
func (s *session) readReply(cmd protocol.Command) ([]byte, error) {
	deadline := time.Now().Add(s.cfg.ReplyTimeout)
	var buf []byte

	for {
		want := replyBytesWanted(cmd, buf)
		if want == 0 {
			return buf, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}

		chunk, err := s.ch.Read(want, remaining)
		if err != nil {
			if errors.Is(err, transport.ErrReadTimeout) {
				break
			}
			return nil, fmt.Errorf("read: %w", err)
		}
		buf = append(buf, chunk...)
	}

	if len(buf) == 0 {
		return nil, &ResponseTimeoutError{Timeout: s.cfg.ReplyTimeout}
	}
	// Partial frame: either a short device-error reply or a truncated one.
	// Decode tells them apart.
	return buf, nil
}

// replyBytesWanted returns how many more bytes the reply needs, or zero when
// it is complete.
func replyBytesWanted(cmd protocol.Command, buf []byte) int {
	if cmd.Kind == protocol.ReplyVersion {
		// Complete once the terminator and the trailing checksum are in.
		if i := bytes.IndexByte(buf, 0); i >= 0 && len(buf) > i+1 {
			return 0
		}
		return versionReadChunk
	}
	return cmd.ReplyLen - len(buf)
}

// retryable reports whether an attempt error warrants the executor's single
// retry: transport I/O failures and corrupted frames, where the usual cause
// is transient line noise.
func retryable(err error) bool {
	var timeout *ResponseTimeoutError
	var devErr *protocol.DeviceError
	if errors.As(err, &timeout) || errors.As(err, &devErr) {
		return false
	}
	var checksum *protocol.ChecksumMismatchError
	var malformed *protocol.MalformedFrameError
	if errors.As(err, &checksum) || errors.As(err, &malformed) {
		return true
	}
	// Anything else from the attempt is a transport failure.
	return true
}

// checkControl refuses foreground commands while the remote control grant is
// uncertain. A successful Poke clears the condition.
func (s *session) checkControl() error {
	s.ctrl.Lock()
	defer s.ctrl.Unlock()
	if s.ctrl.uncertain {
		return &ControlUncertainError{Failures: s.ctrl.failures}
	}
	return nil
}

func (s *session) noteSuccess() {
	s.ctrl.Lock()
	defer s.ctrl.Unlock()
	s.ctrl.failures = 0
	if s.ctrl.uncertain {
		s.ctrl.uncertain = false
		s.log.Info().Msg("remote control re-established")
	}
	s.ctrl.lastExchange = time.Now()
}

// notePokeFailure records a failed keep-alive tick and raises the
// control-uncertain condition at the configured limit.
func (s *session) notePokeFailure(err error) {
	s.ctrl.Lock()
	defer s.ctrl.Unlock()
	s.ctrl.failures++
	if s.ctrl.failures >= s.cfg.PokeFailureLimit && !s.ctrl.uncertain {
		s.ctrl.uncertain = true
		s.log.Error().
			Err(err).
			Int("failures", s.ctrl.failures).
			Msg("remote control uncertain")
	}
}

// sinceLastExchange reports how long the link has been quiet. Foreground
// traffic counts: the device only needs silence-breaking bytes, not the poke
// command specifically.
func (s *session) sinceLastExchange() time.Duration {
	s.ctrl.Lock()
	defer s.ctrl.Unlock()
	if s.ctrl.lastExchange.IsZero() {
		return time.Duration(1<<62 - 1)
	}
	return time.Since(s.ctrl.lastExchange)
}
