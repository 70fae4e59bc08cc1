// Package main provides aes67d, a daemon that discovers AES67 streams on the
// local network, logs their lifecycle, and can announce and transmit a test
// tone.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/opd-ai/aes67"
	"github.com/opd-ai/aes67/av/audio"
	"github.com/opd-ai/aes67/stream"
	"github.com/opd-ai/aes67/subscription"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// toneChunk is how much tone audio is sent per wakeup.
const toneChunk = 10 * time.Millisecond

// CLIConfig holds the parsed command line.
type CLIConfig struct {
	configFile    string
	interfaceName string
	sapAddr       string
	logLevel      string
	logFormat     string

	tone          bool
	toneName      string
	toneSource    string
	toneDest      string
	tonePort      int
	toneFrequency float64
	toneChannels  int
	toneRate      int
	toneEncoding  string
	tonePTime     float64

	subscribe []string
	help      bool

	// set records which flags were given explicitly.
	set map[string]bool
}

type stringList []string

func (s *stringList) String() string { return strings.Join(*s, ",") }

func (s *stringList) Set(v string) error {
	*s = append(*s, v)
	return nil
}

// parseCLIFlags parses args into a CLIConfig.
func parseCLIFlags(args []string, output io.Writer) (*CLIConfig, error) {
	config := &CLIConfig{set: make(map[string]bool)}
	fs := flag.NewFlagSet("aes67d", flag.ContinueOnError)
	fs.SetOutput(output)

	// Node configuration
	fs.StringVar(&config.configFile, "config", "", "YAML configuration file")
	fs.StringVar(&config.interfaceName, "interface", "", "Network interface for multicast (default: system choice)")
	fs.StringVar(&config.sapAddr, "sap-addr", "", "SAP listen address (default 0.0.0.0:9875)")

	// Logging configuration
	fs.StringVar(&config.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	fs.StringVar(&config.logFormat, "log-format", "text", "Log format (text, json)")

	// Test tone sender
	fs.BoolVar(&config.tone, "tone", false, "Announce and transmit a sine test tone")
	fs.StringVar(&config.toneName, "tone-name", "aes67d test tone", "Session name of the test tone")
	fs.StringVar(&config.toneSource, "tone-source", "", "Source IPv4 announced for the tone (default: first interface address)")
	fs.StringVar(&config.toneDest, "tone-dest", "239.69.0.1", "Multicast destination of the tone")
	fs.IntVar(&config.tonePort, "tone-port", 0, "RTP port of the tone (default: rtp_port)")
	fs.Float64Var(&config.toneFrequency, "tone-frequency", 1000, "Tone frequency in Hz")
	fs.IntVar(&config.toneChannels, "tone-channels", 2, "Tone channel count")
	fs.IntVar(&config.toneRate, "tone-rate", 48000, "Tone sample rate")
	fs.StringVar(&config.toneEncoding, "tone-encoding", "L24", "Tone encoding (L16, L24)")
	fs.Float64Var(&config.tonePTime, "tone-ptime", 1, "Tone packet time in milliseconds")

	// Receive
	fs.Var((*stringList)(&config.subscribe), "subscribe", "Stream key (ip:port) to subscribe to once discovered; repeatable")

	fs.BoolVar(&config.help, "help", false, "Show help message")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	fs.Visit(func(f *flag.Flag) { config.set[f.Name] = true })
	return config, nil
}

// validateCLIConfig validates the CLI configuration.
func validateCLIConfig(config *CLIConfig) error {
	if _, err := logrus.ParseLevel(config.logLevel); err != nil {
		return fmt.Errorf("invalid log level %q", config.logLevel)
	}
	if config.logFormat != "text" && config.logFormat != "json" {
		return fmt.Errorf("invalid log format %q: must be text or json", config.logFormat)
	}
	if config.tone {
		if config.tonePort < 0 || config.tonePort > 65535 {
			return fmt.Errorf("invalid tone port %d", config.tonePort)
		}
		if config.toneEncoding != string(stream.EncodingL16) && config.toneEncoding != string(stream.EncodingL24) {
			return fmt.Errorf("invalid tone encoding %q: must be L16 or L24", config.toneEncoding)
		}
		if err := toneFormat(config).Validate(); err != nil {
			return fmt.Errorf("invalid tone format: %w", err)
		}
	}
	return nil
}

// configureLogging applies the log level and formatter.
func configureLogging(config *CLIConfig) {
	level, err := logrus.ParseLevel(config.logLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
	if config.logFormat == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
}

// buildOptions loads the config file, if any, and overlays explicit flags.
func buildOptions(config *CLIConfig) (*aes67.Options, error) {
	opts := aes67.NewOptions()
	if config.configFile != "" {
		loaded, err := aes67.LoadOptions(config.configFile)
		if err != nil {
			return nil, err
		}
		opts = loaded
	}
	if config.set["interface"] {
		opts.InterfaceName = config.interfaceName
	}
	if config.set["sap-addr"] {
		opts.SAPListenAddr = config.sapAddr
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return opts, nil
}

func toneFormat(config *CLIConfig) stream.Format {
	return stream.Format{
		SampleRate: config.toneRate,
		Channels:   config.toneChannels,
		Encoding:   stream.Encoding(config.toneEncoding),
		PTimeMs:    config.tonePTime,
	}
}

// attachEventLogging logs node events and subscribes to requested streams
// as they appear.
func attachEventLogging(node *aes67.Node, subscribe []string) {
	wanted := make(map[stream.Key]bool, len(subscribe))
	for _, k := range subscribe {
		wanted[stream.Key(k)] = true
	}

	node.OnStreamDiscovered(func(d stream.Descriptor) {
		logrus.WithFields(logrus.Fields{
			"key":         d.Key(),
			"name":        d.Name,
			"dest":        d.DestIP,
			"format":      d.Format().String(),
			"media_clock": d.MediaClockRef,
		}).Info("Stream discovered")

		if !wanted[d.Key()] {
			return
		}
		// Subscribing binds a socket, so keep it off the discovery goroutine.
		go func() {
			info, err := node.Subscribe(d.Key(), d.Port)
			if err != nil {
				if !errors.Is(err, subscription.ErrAlreadySubscribed) {
					logrus.WithFields(logrus.Fields{
						"key":   d.Key(),
						"error": err.Error(),
					}).Error("Subscribe failed")
				}
				return
			}
			logrus.WithFields(logrus.Fields{
				"subscription_id": info.ID,
				"multicast":       info.Multicast,
			}).Info("Subscribed")
		}()
	})

	node.OnStreamRemoved(func(d stream.Descriptor) {
		logrus.WithFields(logrus.Fields{
			"key":    d.Key(),
			"name":   d.Name,
			"status": d.Status,
		}).Info("Stream removed")
	})

	node.OnStatus(func(s aes67.Status) {
		logrus.WithFields(logrus.Fields{
			"discovery":     s.Discovery,
			"streams":       s.Streams,
			"devices":       s.Devices,
			"subscriptions": s.Subscriptions,
			"packets_lost":  s.PacketsLost,
			"degraded":      s.Degraded,
			"senders":       s.Senders,
			"packets_sent":  s.PacketsSent,
		}).Info("Status")
	})
}

// runTone announces a tone sender and feeds it in real time until ctx ends.
func runTone(ctx context.Context, node *aes67.Node, config *CLIConfig) error {
	format := toneFormat(config)
	gen, err := audio.NewToneGenerator(format, config.toneFrequency, 0.25)
	if err != nil {
		return err
	}

	info, err := node.AddSender(aes67.SenderConfig{
		ID:       "tone",
		Name:     config.toneName,
		SourceIP: config.toneSource,
		DestIP:   config.toneDest,
		Port:     config.tonePort,
		Format:   format,
	})
	if err != nil {
		return fmt.Errorf("failed to add tone sender: %w", err)
	}
	logrus.WithFields(logrus.Fields{
		"dest":   fmt.Sprintf("%s:%d", info.Descriptor.DestIP, info.Descriptor.Port),
		"format": format.String(),
		"ssrc":   info.SSRC,
	}).Info("Test tone started")

	frames := int(float64(format.SampleRate) * toneChunk.Seconds())
	ticker := time.NewTicker(toneChunk)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := node.Send("tone", gen.Next(frames)); err != nil {
				logrus.WithError(err).Warn("Tone send failed")
			}
		}
	}
}

// run starts the node and blocks until ctx is cancelled.
func run(ctx context.Context, config *CLIConfig, opts *aes67.Options) error {
	node, err := aes67.New(opts)
	if err != nil {
		return fmt.Errorf("failed to create node: %w", err)
	}
	attachEventLogging(node, config.subscribe)

	if err := node.StartDiscovery(); err != nil {
		_ = node.Close()
		return fmt.Errorf("failed to start discovery: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	if config.tone {
		g.Go(func() error { return runTone(gctx, node, config) })
	}
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})

	err = g.Wait()
	if closeErr := node.Close(); closeErr != nil {
		logrus.WithError(closeErr).Warn("Errors while closing node")
	}
	return err
}

func main() {
	cliConfig, err := parseCLIFlags(os.Args[1:], os.Stderr)
	if err != nil {
		os.Exit(2)
	}
	if cliConfig.help {
		fmt.Println("aes67d discovers AES67 streams via SAP and can transmit a test tone.")
		fmt.Println()
		fmt.Printf("Usage:\n  %s [options]\n", os.Args[0])
		os.Exit(0)
	}

	if err := validateCLIConfig(cliConfig); err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		fmt.Fprintf(os.Stderr, "Use -help for usage information.\n")
		os.Exit(1)
	}
	configureLogging(cliConfig)

	opts, err := buildOptions(cliConfig)
	if err != nil {
		logrus.WithError(err).Fatal("Invalid configuration")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logrus.WithFields(logrus.Fields{
		"sap_addr":  opts.SAPListenAddr,
		"interface": opts.InterfaceName,
		"tone":      cliConfig.tone,
	}).Info("aes67d starting")

	if err := run(ctx, cliConfig, opts); err != nil {
		logrus.WithError(err).Fatal("aes67d stopped with error")
	}
	logrus.Info("aes67d stopped")
}
