package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vehicledx/doipgw/internal/config"
	"github.com/vehicledx/doipgw/internal/daemonize"
	"github.com/vehicledx/doipgw/internal/logging"
	"github.com/vehicledx/doipgw/pkg/doip"
	"github.com/vehicledx/doipgw/pkg/isotp"
	"github.com/vehicledx/doipgw/pkg/uds"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the DoIP gateway",
	Long: `Start the DoIP gateway.

Examples:
  doipgw start                          # foreground, doipgw.yaml
  doipgw start -c /etc/doipgw/gw.yaml   # foreground, explicit config
  doipgw start --daemon --pidfile /var/run/doipgw.pid
`,
	RunE: runStart,
}

func runStart(cmd *cobra.Command, args []string) error {
	if daemonMode {
		if err := daemonize.Daemonize(pidFile); err != nil {
			return fmt.Errorf("daemonize: %w", err)
		}
		defer daemonize.RemovePIDFile(pidFile)
	}

	file, err := config.Load(configPath)
	if err != nil {
		return err
	}
	applyFlagOverrides(file)

	log := logging.New(file.Log)
	if trace {
		file.Log.Level = "trace"
		log = logging.New(file.Log)
	} else if verbose {
		file.Log.Level = "debug"
		log = logging.New(file.Log)
	}

	entity, err := file.EntityConfig()
	if err != nil {
		return err
	}
	serverCfg := file.ServerConfig()

	bus, err := openCANBus(file, log)
	if err != nil {
		return err
	}
	defer bus.Close()

	routes, err := file.ISOTPRoutes()
	if err != nil {
		return err
	}
	pipe := isotp.NewPipe(log, bus, routes, file.ISOTPConfig())
	provider := uds.NewProvider(log, pipe)

	modelFactory := func() *doip.ServerModel {
		return &doip.ServerModel{
			Config:              entity,
			OnDownstreamRequest: provider.OnDownstreamRequest,
		}
	}

	transport := doip.NewTCPServerTransport(serverCfg.Loopback, serverCfg.MaxPayloadLength, log)
	server := doip.NewServer(transport, serverCfg, modelFactory, log)

	if err := server.Start(); err != nil {
		return fmt.Errorf("start server: %w", err)
	}
	log.Infof("doipgw listening on tcp/%d (loopback=%v, vin=%s)", serverCfg.TCPPort, serverCfg.Loopback, entity.VIN)

	fatalErr := waitForShutdown(log, server)
	server.Stop()
	if fatalErr != nil {
		return &RuntimeFatalError{Err: fatalErr}
	}
	log.Info("doipgw stopped")
	return nil
}

// applyFlagOverrides layers --vin/--address/--loopback on top of
// whatever the config file set, the way start.go's own flags win over
// defaults in firestige-Otus/cmd/start.go.
func applyFlagOverrides(file *config.File) {
	if flagVIN != "" {
		file.Entity.VIN = flagVIN
	}
	if flagAddress != "" {
		file.Entity.LogicalAddress = flagAddress
	}
	if flagLoopback {
		file.Network.Loopback = true
	}
}

// openCANBus picks a real SocketCAN bus when the config names an
// interface, falling back to an in-memory bus (no ECU reachable: a
// request to a routed address times out, one to an unrouted address is
// refused at once) so the gateway can still start for development
// without CAN hardware present.
func openCANBus(file *config.File, log *logging.Adapter) (isotp.Bus, error) {
	if file.CAN.Interface == "" {
		log.Warn("can.interface not set, downstream requests will time out against an in-memory bus")
		return isotp.NewMemoryBus(16), nil
	}
	bus, err := isotp.OpenSocketCANBus(file.CAN.Interface)
	if err != nil {
		return nil, fmt.Errorf("open CAN interface %s: %w", file.CAN.Interface, err)
	}
	return bus, nil
}

// waitForShutdown blocks until SIGINT/SIGTERM, mirroring the signal
// set original_source/src/main.cpp installs before DoIPServer::run().
// It also watches server's Fatal channel: if a background loop hits an
// unrecoverable transport error after Start already succeeded, that
// error is returned instead of nil so the caller can tell a clean stop
// apart from a runtime failure.
func waitForShutdown(log *logging.Adapter, server *doip.Server) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		log.Infof("received %s, shutting down", sig)
		return nil
	case err := <-server.Fatal():
		log.Errorf("server reported a fatal error, shutting down: %v", err)
		return err
	}
}

// RuntimeFatalError marks a failure that occurred after the gateway
// was already up and serving, as opposed to a setup failure (bad
// config, socket bind). main.go maps the two to distinct exit codes
// per spec.md's external interface.
type RuntimeFatalError struct {
	Err error
}

func (e *RuntimeFatalError) Error() string { return e.Err.Error() }

func (e *RuntimeFatalError) Unwrap() error { return e.Err }
