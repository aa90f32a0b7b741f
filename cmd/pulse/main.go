// pulse — a minimal, educational ICMP ping tool.
//
// Usage:
//
//	sudo pulse [flags] <host>
//
// Flags are also settable through PULSE_* environment variables, e.g.
// -c/--count via PULSE_COUNT.
//
// Example:
//
//	sudo pulse -c 5 -i 0.5 google.com
package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	ping "github.com/ravvdevv/pulsecore/internal/icmp"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("pulse")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	cmd := &cobra.Command{
		Use:   "pulse <host>",
		Short: "pulse sends ICMP echo requests and reports round-trip events",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, v, args[0])
		},
	}

	flags := cmd.Flags()
	flags.IntP("count", "c", 4, "number of pings to send (-1 = infinite)")
	flags.Float64P("interval", "i", 1.0, "interval between pings (seconds)")
	flags.IntP("size", "s", ping.DefaultPayloadSize, "payload size (bytes)")
	flags.String("family", "any", "address family policy: any, v4, v6")
	flags.BoolP("verbose", "v", false, "verbose: show per-packet timestamps")

	for _, name := range []string{"count", "interval", "size", "family", "verbose"} {
		_ = v.BindPFlag(name, flags.Lookup(name))
	}

	return cmd
}

func run(cmd *cobra.Command, v *viper.Viper, host string) error {
	policy, err := parseFamily(v.GetString("family"))
	if err != nil {
		return err
	}

	count := v.GetInt("count")
	interval := time.Duration(v.GetFloat64("interval") * float64(time.Second))
	size := v.GetInt("size")
	verbose := v.GetBool("verbose")

	logrus.SetLevel(logrus.WarnLevel)
	if verbose {
		logrus.SetLevel(logrus.DebugLevel)
	}

	var (
		mu       sync.Mutex
		sent     int
		received int
		rtts     []time.Duration
		sentAt   = map[uint16]time.Time{}
	)

	done := make(chan struct{})
	var once sync.Once
	closeDone := func() { once.Do(func() { close(done) }) }

	p := ping.New(host, policy, func(ev ping.Event) {
		mu.Lock()
		defer mu.Unlock()

		switch e := ev.(type) {
		case ping.StartedEvent:
			fmt.Fprintf(cmd.OutOrStdout(), "🔍 PULSE scanning %s (%s)\n", host, e.Addr)

		case ping.SentEvent:
			sent++
			sentAt[e.Sequence] = time.Now()

		case ping.SendFailedEvent:
			sent++
			fmt.Fprintf(cmd.ErrOrStderr(), "❌ PULSE seq=%d failed: %v\n", e.Sequence, e.Err)

		case ping.ReceivedEvent:
			t0, ok := sentAt[e.Sequence]
			if !ok {
				return
			}
			rtt := time.Since(t0)
			received++
			rtts = append(rtts, rtt)
			delete(sentAt, e.Sequence)
			ts := ""
			if verbose {
				ts = fmt.Sprintf(" [%s]", time.Now().Format("15:04:05.000"))
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✅ %s: seq=%d latency=%s%s\n",
				host, e.Sequence, fmtRTT(rtt), ts)

		case ping.UnexpectedEvent:
			logrus.WithField("bytes", len(e.Packet)).Debug("discarded unexpected packet")

		case ping.FailedEvent:
			fmt.Fprintf(cmd.ErrOrStderr(), "❌ PULSE: %v\n", e.Err)
			closeDone()
		}
	})

	if err := p.Start(); err != nil {
		return err
	}
	defer p.Stop()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer closeDone()
		for seq := 0; count < 0 || seq < count; seq++ {
			for p.State() == ping.StateResolving {
				time.Sleep(10 * time.Millisecond)
			}
			if p.State() != ping.StateActive {
				return
			}
			if err := p.SendPing(make([]byte, size)); err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "❌ PULSE: %v\n", err)
				return
			}
			select {
			case <-stop:
				return
			case <-time.After(interval):
			}
		}
	}()

	select {
	case <-done:
	case <-stop:
		fmt.Fprintln(cmd.OutOrStdout())
	}

	mu.Lock()
	defer mu.Unlock()
	printStats(cmd, host, sent, received, rtts)
	return nil
}

func parseFamily(s string) (ping.Family, error) {
	switch strings.ToLower(s) {
	case "", "any":
		return ping.FamilyAny, nil
	case "v4", "ip4", "4":
		return ping.FamilyV4, nil
	case "v6", "ip6", "6":
		return ping.FamilyV6, nil
	default:
		return 0, fmt.Errorf("pulse: unknown family policy %q (want any, v4, or v6)", s)
	}
}

func printStats(cmd *cobra.Command, host string, sent, received int, rtts []time.Duration) {
	out := cmd.OutOrStdout()
	loss := 0.0
	if sent > 0 {
		loss = float64(sent-received) / float64(sent) * 100
	}
	fmt.Fprintf(out, "\n📊 PULSE scan complete for %s\n", host)
	fmt.Fprintf(out, "📤 Sent: %d | 📥 Received: %d | 💔 Loss: %.1f%%\n", sent, received, loss)
	if len(rtts) == 0 {
		return
	}
	min, max, total := rtts[0], rtts[0], time.Duration(0)
	for _, r := range rtts {
		total += r
		if r < min {
			min = r
		}
		if r > max {
			max = r
		}
	}
	avg := total / time.Duration(len(rtts))
	fmt.Fprintf(out, "⚡ Latency: min=%s | avg=%s | max=%s\n", fmtRTT(min), fmtRTT(avg), fmtRTT(max))
}

func fmtRTT(d time.Duration) string {
	return fmt.Sprintf("%.3f ms", float64(d)/float64(time.Millisecond))
}
