// Package stimulator drives Magstim transcranial magnetic stimulators over a
// transport.Channel. It provides three device facades, Magstim (200-series
// single pulse), BiStim (paired pulse) and Rapid (repetitive trains), on top
// of a shared session layer that serialises exchanges on the link, keeps the
// remote control grant alive in the background, and tracks the device's
// arm/fire lifecycle.
//
// The units revert to front-panel control if the serial line goes quiet
// (roughly one second while armed, ten while disarmed), so a connected
// session runs a keep-alive goroutine that pokes the device whenever no
// foreground traffic has done so recently. The keep-alive and foreground
// paths share the single physical channel through the session mutex; the
// keep-alive skips its tick rather than queueing when a foreground command
// holds it.
//
// Basic usage:
//
//	ch, err := transport.Open(transport.DefaultConfig("/dev/ttyUSB0"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	dev := stimulator.New(ch, stimulator.WithLogger(logger))
//	if err := dev.Connect(); err != nil {
//	    log.Fatal(err)
//	}
//	defer dev.Disconnect()
//
//	dev.SetPower(65, true)
//	dev.Arm(true)
//	for {
//	    ready, err := dev.IsReadyToFire()
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//	    if ready {
//	        break
//	    }
//	    time.Sleep(100 * time.Millisecond)
//	}
//	dev.Fire()
//	dev.Disarm()
//
// Rapid units at firmware revision 9 and later additionally need an unlock
// code before train parameters can be driven remotely; provide it with
// Rapid.Unlock before Connect.
//
// A facade instance and its session are safe for concurrent use, but a single
// physical channel must never be shared between two sessions.
package stimulator
