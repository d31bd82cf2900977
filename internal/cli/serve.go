package cli

import (
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/mjolnir42/velotrain/internal/asyncwait"
	"github.com/mjolnir42/velotrain/internal/config"
	"github.com/mjolnir42/velotrain/internal/control"
	"github.com/mjolnir42/velotrain/internal/debugsrv"
	"github.com/mjolnir42/velotrain/internal/dhi"
	"github.com/mjolnir42/velotrain/internal/engine"
	"github.com/mjolnir42/velotrain/internal/env"
	"github.com/mjolnir42/velotrain/internal/hub"
	"github.com/mjolnir42/velotrain/internal/metrics"
	"github.com/mjolnir42/velotrain/internal/pubsub"
	"github.com/mjolnir42/velotrain/internal/sector"
)

// ServeArgs are the flags of the serve subcommand.
type ServeArgs struct {
	ConfigPath string
	Debug      bool
	Reset      bool
	DebugAddr  string
}

// NewServeCommand builds the long-running serve subcommand: load
// configuration, wire the decoder hub, passing engine, replay path and
// control plane, then block until an interrupt or SIGTERM.
func NewServeCommand() *cobra.Command {
	cmdArgs := ServeArgs{}
	command := &cobra.Command{
		Use:   "serve",
		Short: "Run the velotrain timing engine",
		RunE: func(command *cobra.Command, args []string) error {
			return runServe(cmdArgs)
		},
	}

	command.Flags().StringVarP(&cmdArgs.ConfigPath, "config", "c", "", "Path to the JSON configuration file")
	command.Flags().BoolVarP(&cmdArgs.Debug, "debug", "v", false, "Increase verbosity to the debug level")
	command.Flags().BoolVarP(&cmdArgs.Reset, "reset", "", false, "Run a full reset/sync before accepting decoder traffic")
	command.Flags().StringVarP(&cmdArgs.DebugAddr, "debug-addr", "", "", "Optional host:port to serve /healthz and /metrics on")

	return command
}

func runServe(args ServeArgs) error {
	if args.Debug {
		logrus.SetLevel(logrus.DebugLevel)
	}

	cfg, err := config.Load(args.ConfigPath)
	if err != nil {
		return err
	}

	smap, err := sector.Build(cfg)
	if err != nil {
		return err
	}

	mtr := metrics.New()

	h := hub.New(cfg.UAddr, cfg.UPort, cfg.Bcast)
	for _, id := range cfg.MPSeq {
		mc, ok := cfg.MPs[id]
		if !ok || !mc.Active || mc.IP == "" {
			continue
		}
		h.Add(mc.IP, id)
	}

	mq, err := pubsub.NewMQTT(cfg.MQTTBroker, cfg.MQTTClientID, cfg.BaseTopic+"/status")
	if err != nil {
		return err
	}
	grp := asyncwait.New()
	pub := pubsub.Tracked(mq, grp)

	var dhiC *dhi.Client
	if host, port, ok := cfg.DHIAddr(); ok {
		dhiC = dhi.New(net.JoinHostPort(host, strconv.Itoa(port)), cfg.DHIEncoding, mtr)
	}

	// Sensor drivers are external collaborators; the two-tier combinator
	// is wired here so they can be plugged in without engine changes.
	envS := env.NewCombined(nil, nil)

	eng := engine.New(cfg, smap, h, pub, envS, dhiC, mtr)

	dbg := debugsrv.New(args.DebugAddr, mtr)
	dbg.Start()

	plane := control.New(mq, cfg.BaseTopic, eng.InputChannel())
	if err := plane.Start(); err != nil {
		logrus.Warnf("cli: control plane: %v", err)
	}

	go func() {
		for ev := range h.Output() {
			eng.InputChannel() <- ev
		}
	}()

	go func() {
		if err := h.Run(); err != nil {
			logrus.Errorf("cli: hub: %v", err)
		}
	}()

	go eng.Start()

	if args.Reset {
		go func() {
			logrus.Info("cli: running startup reset")
			eng.Reset()
		}()
	}

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, os.Interrupt, syscall.SIGTERM)
	<-sigc

	logrus.Info("cli: shutting down")
	eng.Stop()
	<-eng.ShutdownChannel()
	h.Shutdown()
	eng.ShutdownStatus()
	grp.Wait()
	mq.Close()
	dbg.Stop()

	return nil
}
