// magstim-ctl is a small operator console for Magstim stimulators attached
// over a serial line. Each subcommand opens the port, runs one session and
// disconnects, leaving the unit in local control.
package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	pflag "github.com/spf13/pflag"

	"github.com/stimlink/go-magstim/protocol"
	"github.com/stimlink/go-magstim/stimulator"
	"github.com/stimlink/go-magstim/transport"
)

// fileConfig is the TOML layout of the optional config file
// (default ~/.magstim-ctl/config.toml).
type fileConfig struct {
	Port       transport.Config `toml:"port"`
	Variant    string           `toml:"variant"`
	UnlockCode string           `toml:"unlock_code"`
}

func defaultConfigPath() string {
	if h, err := os.UserHomeDir(); err == nil {
		return filepath.Join(h, ".magstim-ctl", "config.toml")
	}
	return ""
}

func loadFileConfig(path string) (fileConfig, error) {
	var fc fileConfig
	b, err := os.ReadFile(path)
	if err != nil {
		return fc, err
	}
	if err := toml.Unmarshal(b, &fc); err != nil {
		return fc, err
	}
	return fc, nil
}

// cli holds the resolved settings shared by every subcommand.
type cli struct {
	log zerolog.Logger

	cfgPath    string
	port       string
	variant    string
	unlockCode string
	timeout    time.Duration
	verbose    bool

	portCfg *transport.Config
}

// resolve merges the config file into the flag values. Flags the operator set
// explicitly win over the file.
func (c *cli) resolve(cmd *cobra.Command) error {
	level := zerolog.WarnLevel
	if c.verbose {
		level = zerolog.DebugLevel
	}
	c.log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(level).
		With().Timestamp().Logger()

	changed := map[string]bool{}
	cmd.Flags().Visit(func(f *pflag.Flag) { changed[f.Name] = true })

	var filePort transport.Config
	path := c.cfgPath
	if path == "" {
		path = defaultConfigPath()
	}
	if path != "" {
		fc, err := loadFileConfig(path)
		switch {
		case err == nil:
			if !changed["port"] && fc.Port.Device != "" {
				c.port = fc.Port.Device
			}
			if !changed["variant"] && fc.Variant != "" {
				c.variant = fc.Variant
			}
			if !changed["unlock-code"] && fc.UnlockCode != "" {
				c.unlockCode = fc.UnlockCode
			}
			filePort = fc.Port
		case os.IsNotExist(err) && c.cfgPath == "":
			// No default config file; flags alone are fine.
		default:
			return fmt.Errorf("load config %s: %w", path, err)
		}
	}

	switch c.variant {
	case "magstim", "bistim", "rapid":
	default:
		return fmt.Errorf("unknown variant %q (magstim, bistim or rapid)", c.variant)
	}
	if c.port == "" {
		return errors.New("no serial port given (--port or config file)")
	}

	// Magstim defaults first, then whatever port settings the file overrides.
	c.portCfg = transport.DefaultConfig(c.port)
	if filePort.BaudRate != 0 {
		c.portCfg.BaudRate = filePort.BaudRate
	}
	if filePort.DataBits != 0 {
		c.portCfg.DataBits = filePort.DataBits
	}
	if filePort.StopBits != 0 {
		c.portCfg.StopBits = filePort.StopBits
	}
	if filePort.Parity != "" {
		c.portCfg.Parity = filePort.Parity
	}
	return nil
}

// unit bundles the connected facade. base is always set; bistim and rapid
// are set when the variant provides the extended surface.
type unit struct {
	base   *stimulator.Magstim
	bistim *stimulator.BiStim
	rapid  *stimulator.Rapid
}

// connect dispatches to the variant's handshake; the Rapid one resolves the
// firmware revision and runs the unlock exchange.
func (u *unit) connect() error {
	if u.rapid != nil {
		return u.rapid.Connect()
	}
	return u.base.Connect()
}

// fire dispatches to the variant's discharge path; the Rapid one validates
// the programmed sequence first.
func (u *unit) fire() (protocol.StatusFlags, error) {
	if u.rapid != nil {
		return u.rapid.Fire()
	}
	return u.base.Fire()
}

// setPower dispatches to the variant's power setter; the Rapid one honors
// the enhanced-power ceiling.
func (u *unit) setPower(power int, delay bool) error {
	if u.rapid != nil {
		return u.rapid.SetPower(power, delay)
	}
	return u.base.SetPower(power, delay)
}

// withUnit opens the port, connects the configured facade, runs fn and
// disconnects. The disconnect runs even when fn fails so the unit always
// drops back to local control.
func (c *cli) withUnit(fn func(u *unit) error) error {
	ch, err := transport.Open(c.portCfg)
	if err != nil {
		return err
	}

	opts := []stimulator.Option{stimulator.WithLogger(c.log)}
	if c.timeout > 0 {
		opts = append(opts, stimulator.WithReplyTimeout(c.timeout))
	}

	u := &unit{}
	switch c.variant {
	case "bistim":
		u.bistim = stimulator.NewBiStim(ch, opts...)
		u.base = u.bistim.Magstim
	case "rapid":
		u.rapid = stimulator.NewRapid(ch, opts...)
		u.base = u.rapid.Magstim
		if c.unlockCode != "" {
			if err := u.rapid.Unlock(c.unlockCode); err != nil {
				ch.Close()
				return err
			}
		}
	default:
		u.base = stimulator.New(ch, opts...)
	}

	if err := u.connect(); err != nil {
		ch.Close()
		return err
	}
	defer func() {
		if err := u.base.Disconnect(); err != nil {
			c.log.Warn().Err(err).Msg("disconnect")
		}
	}()

	return fn(u)
}

func waitReady(m *stimulator.Magstim, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		ready, err := m.IsReadyToFire()
		if err != nil {
			return err
		}
		if ready {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("unit not ready to fire after %s", timeout)
		}
		time.Sleep(500 * time.Millisecond)
	}
}

func newStatusCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print the unit's lifecycle state and health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withUnit(func(u *unit) error {
				armed, err := u.base.IsArmed()
				if err != nil {
					return err
				}
				ready, err := u.base.IsReadyToFire()
				if err != nil {
					return err
				}
				fmt.Printf("state:  %s\n", u.base.State())
				fmt.Printf("armed:  %v\n", armed)
				fmt.Printf("ready:  %v\n", ready)

				if u.rapid != nil {
					v, err := u.rapid.FirmwareVersion()
					if err != nil {
						return err
					}
					fmt.Printf("firmware: %d.%d.%d\n", v.Major, v.Minor, v.Patch)

					status, err := u.rapid.GetSystemStatus()
					if err == nil {
						fmt.Printf("coil ready: %v\n", status.Rapid.CoilReady)
						fmt.Printf("hvpsu:      %v\n", status.Rapid.HVPSUConnected)
						fmt.Printf("charge delay set: %v\n", status.Extended.ChargeDelaySet)
					}
					var unsupported *stimulator.UnsupportedOnRevisionError
					if err != nil && !errors.As(err, &unsupported) {
						return err
					}
				}
				return nil
			})
		},
	}
}

func newParamsCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "params",
		Short: "Print the unit's current stimulation parameters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withUnit(func(u *unit) error {
				switch {
				case u.bistim != nil:
					p, err := u.bistim.GetParameters()
					if err != nil {
						return err
					}
					fmt.Printf("power A: %d%%\n", p.PowerA)
					fmt.Printf("power B: %d%%\n", p.PowerB)
					fmt.Printf("pulse interval: %d\n", p.PulseInterval)
				case u.rapid != nil:
					p, err := u.rapid.GetParameters()
					if err != nil {
						return err
					}
					fmt.Printf("power:     %d%%\n", p.Power)
					fmt.Printf("frequency: %g Hz\n", p.Frequency)
					fmt.Printf("pulses:    %d\n", p.NPulses)
					fmt.Printf("duration:  %g s\n", p.Duration)
					fmt.Printf("wait:      %g s\n", p.Wait)
				default:
					p, err := u.base.GetParameters()
					if err != nil {
						return err
					}
					fmt.Printf("power: %d%%\n", p.Power)
				}
				return nil
			})
		},
	}
}

func newTemperatureCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "temperature",
		Short: "Print the coil winding temperatures",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withUnit(func(u *unit) error {
				t, err := u.base.GetTemperature()
				if err != nil {
					return err
				}
				fmt.Printf("coil 1: %.1f C\n", t.Coil1)
				fmt.Printf("coil 2: %.1f C\n", t.Coil2)
				return nil
			})
		},
	}
}

func newFireCmd(c *cli) *cobra.Command {
	var (
		power        int
		readyTimeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "fire",
		Short: "Arm the unit, wait for readiness and deliver a single discharge",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withUnit(func(u *unit) error {
				if cmd.Flags().Changed("power") {
					if err := u.setPower(power, true); err != nil {
						return err
					}
				}
				if err := u.base.Arm(true); err != nil {
					return err
				}
				// Disarm on every exit path; a charged unit must never be
				// left behind by a failed run.
				defer func() {
					if err := u.base.Disarm(); err != nil {
						c.log.Warn().Err(err).Msg("disarm after fire")
					}
				}()

				if err := waitReady(u.base, readyTimeout); err != nil {
					return err
				}
				flags, err := u.fire()
				if err != nil {
					return err
				}
				if flags.Fault() {
					return errors.New("unit reported a fault after the discharge")
				}
				fmt.Println("fired")
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&power, "power", 0, "stimulation power in percent, set before arming")
	cmd.Flags().DurationVar(&readyTimeout, "ready-timeout", 10*time.Second, "how long to wait for charge readiness")
	return cmd
}

func newTrainCmd(c *cli) *cobra.Command {
	var (
		freq     float64
		nPulses  int
		duration float64
	)
	cmd := &cobra.Command{
		Use:   "train",
		Short: "Program a pulse train on a Rapid unit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if c.variant != "rapid" {
				return fmt.Errorf("train requires --variant rapid, not %q", c.variant)
			}
			return c.withUnit(func(u *unit) error {
				if err := u.rapid.SetTrain(freq, nPulses, duration); err != nil {
					return err
				}
				if err := u.rapid.ValidateSequence(); err != nil {
					return err
				}
				p, err := u.rapid.GetParameters()
				if err != nil {
					return err
				}
				fmt.Printf("programmed: %g Hz x %g s = %d pulses\n", p.Frequency, p.Duration, p.NPulses)
				return nil
			})
		},
	}
	cmd.Flags().Float64Var(&freq, "freq", 0, "train frequency in Hz")
	cmd.Flags().IntVar(&nPulses, "pulses", 0, "number of pulses in the train")
	cmd.Flags().Float64Var(&duration, "duration", 0, "train duration in seconds")
	cmd.MarkFlagRequired("freq")
	cmd.MarkFlagRequired("pulses")
	cmd.MarkFlagRequired("duration")
	return cmd
}

func newDisarmCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "disarm",
		Short: "Disarm the unit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withUnit(func(u *unit) error {
				if err := u.base.Disarm(); err != nil {
					return err
				}
				fmt.Println("disarmed")
				return nil
			})
		},
	}
}

func main() {
	c := &cli{variant: "magstim", timeout: 0}

	root := &cobra.Command{
		Use:           "magstim-ctl",
		Short:         "Control a Magstim stimulator over a serial line",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.resolve(cmd)
		},
	}
	root.PersistentFlags().StringVar(&c.cfgPath, "config", "", "path to config file (default: ~/.magstim-ctl/config.toml)")
	root.PersistentFlags().StringVar(&c.port, "port", "", "serial port device, e.g. /dev/ttyUSB0")
	root.PersistentFlags().StringVar(&c.variant, "variant", c.variant, "unit variant: magstim, bistim or rapid")
	root.PersistentFlags().StringVar(&c.unlockCode, "unlock-code", "", "Rapid unlock code (revision 9 and later)")
	root.PersistentFlags().DurationVar(&c.timeout, "reply-timeout", 0, "per-command reply timeout (0 = library default)")
	root.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "log the protocol exchanges")

	root.AddCommand(
		newStatusCmd(c),
		newParamsCmd(c),
		newTemperatureCmd(c),
		newFireCmd(c),
		newTrainCmd(c),
		newDisarmCmd(c),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "magstim-ctl: %v\n", err)
		os.Exit(1)
	}
}
