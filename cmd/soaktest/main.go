package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sethvargo/go-envconfig"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap/zapcore"

	"github.com/ventosilenzioso/reliable/pkg/logging"
)

const soaktestVersion = "1.0.0"

// lossRateFlag is a pflag.Value that rejects a packet-loss-rate flag
// outside [0,1] at parse time rather than at use time.
type lossRateFlag struct {
	value *float64
	set   bool
}

func (f *lossRateFlag) String() string {
	if f.value == nil {
		return "0"
	}
	return fmt.Sprintf("%g", *f.value)
}

func (f *lossRateFlag) Set(s string) error {
	var v float64
	if _, err := fmt.Sscanf(s, "%g", &v); err != nil {
		return fmt.Errorf("invalid loss rate %q: %w", s, err)
	}
	if v < 0 || v > 1 {
		return fmt.Errorf("loss rate %g out of range [0,1]", v)
	}
	*f.value = v
	f.set = true
	return nil
}

func (f *lossRateFlag) Type() string { return "float" }

var _ pflag.Value = (*lossRateFlag)(nil)

func newRootCmd() *cobra.Command {
	var (
		loss      = lossRateFlag{value: new(float64)}
		latencyMS int
		jitterMS  int
		durationS int
		seed      int64
		mtu       int
	)

	cmd := &cobra.Command{
		Use:   "soaktest",
		Short: "Drives two connections over a simulated lossy link and asserts reliability invariants",
		RunE: func(cmd *cobra.Command, args []string) error {
			var cfg Config
			if err := envconfig.Process(cmd.Context(), &cfg); err != nil {
				return fmt.Errorf("soaktest: load config: %w", err)
			}
			if loss.set {
				cfg.PacketLoss = *loss.value
			}
			if cmd.Flags().Changed("latency-ms") {
				cfg.Latency = time.Duration(latencyMS) * time.Millisecond
			}
			if cmd.Flags().Changed("jitter-ms") {
				cfg.Jitter = time.Duration(jitterMS) * time.Millisecond
			}
			if cmd.Flags().Changed("duration-sec") {
				cfg.Duration = time.Duration(durationS) * time.Second
			}
			if cmd.Flags().Changed("seed") {
				cfg.Seed = seed
			}
			if cmd.Flags().Changed("mtu") {
				cfg.MTU = mtu
			}

			log := logging.New(zapcore.InfoLevel)
			defer log.Sync()
			log.Banner("soaktest", soaktestVersion)
			log.Info("starting soak: loss=%.3f latency=%s jitter=%s duration=%s seed=%d",
				cfg.PacketLoss, cfg.Latency, cfg.Jitter, cfg.Duration, cfg.Seed)

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			if err := runSoak(ctx, cfg, log); err != nil && err != context.Canceled {
				return fmt.Errorf("soaktest: %w", err)
			}
			log.Success("soak completed with no invariant violations")
			return nil
		},
	}

	cmd.Flags().Var(&loss, "loss", "packet loss rate in [0,1] (overrides SOAK_PACKET_LOSS)")
	cmd.Flags().IntVar(&latencyMS, "latency-ms", 200, "one-way latency in milliseconds")
	cmd.Flags().IntVar(&jitterMS, "jitter-ms", 20, "latency jitter in milliseconds")
	cmd.Flags().IntVar(&durationS, "duration-sec", 0, "run duration in seconds (0 = until interrupted)")
	cmd.Flags().Int64Var(&seed, "seed", 1, "PRNG seed")
	cmd.Flags().IntVar(&mtu, "mtu", 576, "path MTU used to size each channel's packetBudget")

	cmd.AddCommand(newUDPDemoCmd())

	return cmd
}

func newUDPDemoCmd() *cobra.Command {
	var mtu int
	cmd := &cobra.Command{
		Use:   "udp-demo",
		Short: "Runs two connections over real loopback UDP sockets instead of the in-process link simulator",
		RunE: func(cmd *cobra.Command, args []string) error {
			var cfg Config
			if err := envconfig.Process(cmd.Context(), &cfg); err != nil {
				return fmt.Errorf("soaktest: load config: %w", err)
			}
			if cmd.Flags().Changed("mtu") {
				cfg.MTU = mtu
			}

			log := logging.New(zapcore.InfoLevel)
			defer log.Sync()
			log.Banner("soaktest udp-demo", soaktestVersion)

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			if err := runUDPDemo(ctx, cfg, log); err != nil && err != context.Canceled {
				return fmt.Errorf("soaktest udp-demo: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&mtu, "mtu", 576, "path MTU used to size each channel's packetBudget")
	return cmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
