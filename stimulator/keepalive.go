package stimulator

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/stimlink/go-magstim/protocol"
)

// keepAlive is the per-session coordinator that breaks the line silence the
// device uses to decide remote control has been abandoned. One goroutine per
// connected session; it pokes every ArmedPokeInterval while armed and every
// IdlePokeInterval otherwise, skipping a tick whenever a foreground command
// holds the session mutex or has exchanged recently enough.
type keepAlive struct {
	sess *session
	cfg  Config
	log  zerolog.Logger

	// extended selects the system status query as the poke command
	// (unlocked Rapid units); set before start, never after
	extended bool

	startOnce sync.Once
	stopOnce  sync.Once
	stopCh    chan struct{}
	doneCh    chan struct{}
}

func newKeepAlive(sess *session, cfg Config) *keepAlive {
	return &keepAlive{
		sess:   sess,
		cfg:    cfg,
		log:    cfg.Logger,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// start launches the coordinator. Subsequent calls are no-ops.
func (k *keepAlive) start() {
	k.startOnce.Do(func() {
		go k.run()
	})
}

// stop signals the coordinator and joins it. An in-flight poke completes (or
// times out) before the goroutine exits, so the channel is quiescent when
// stop returns. Idempotent.
func (k *keepAlive) stop() {
	k.stopOnce.Do(func() {
		close(k.stopCh)
	})
	k.start() // ensure doneCh closes even if never started
	<-k.doneCh
}

// stopped reports whether stop has been requested. A stopped coordinator
// never restarts; the session it served is finished.
func (k *keepAlive) stopped() bool {
	select {
	case <-k.stopCh:
		return true
	default:
		return false
	}
}

func (k *keepAlive) run() {
	defer close(k.doneCh)

	for {
		select {
		case <-k.stopCh:
			return
		case <-time.After(k.interval()):
		}

		select {
		case <-k.stopCh:
			return
		default:
		}

		k.tick()
	}
}

func (k *keepAlive) interval() time.Duration {
	if k.sess.machine.current().armed() {
		return k.cfg.ArmedPokeInterval
	}
	return k.cfg.IdlePokeInterval
}

// tick issues one poke exchange, unless a foreground command is using the
// channel (skip, not queue: the foreground traffic renews the grant itself)
// or recent foreground traffic already has.
func (k *keepAlive) tick() {
	if !k.sess.mu.TryLock() {
		return
	}
	defer k.sess.mu.Unlock()

	if k.sess.sinceLastExchange() < k.interval() {
		return
	}

	_, err := k.sess.exchangeLocked(protocol.BuildPokeCmd(k.extended))
	if err != nil {
		k.log.Warn().Err(err).Msg("keep-alive poke failed")
		k.sess.notePokeFailure(err)
	}
}
