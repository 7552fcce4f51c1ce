// Command cncstream is the process that wires the core packages (internal/controller,
// internal/feeder, internal/sender, internal/firmware/*) to a real serial port and exposes them
// over REST and WebSocket client transports: a single cobra.Command with slogxt-based logging
// flags and a long-running serve loop.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	slogxtCobra "github.com/fornellas/slogxt/cobra"
	"github.com/fornellas/slogxt/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/opencnc/cncstream/internal/config"
	"github.com/opencnc/cncstream/internal/controller"
	"github.com/opencnc/cncstream/internal/macro"
	"github.com/opencnc/cncstream/internal/protocol"
	"github.com/opencnc/cncstream/internal/serialport"
	"github.com/opencnc/cncstream/internal/transport/rest"
	"github.com/opencnc/cncstream/internal/transport/websocket"
)

var rootCmd = &cobra.Command{
	Use:   "cncstream",
	Short: "G-code streaming controller core for Grbl and TinyG2 devices",
	Args:  cobra.NoArgs,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logger := slogxtCobra.GetLogger(cmd.OutOrStderr()).WithGroup("cncstream")
		cmd.SetContext(log.WithLogger(cmd.Context(), logger))
		return nil
	},
	RunE: runServe,
}

func init() {
	slogxtCobra.AddLoggerFlags(rootCmd)

	flags := rootCmd.Flags()
	flags.String("port", "", "Serial port device path (e.g. /dev/ttyUSB0) or tcp://host:port bridge")
	flags.Int("baud-rate", 0, "Serial baud rate (default 115200)")
	flags.String("firmware", "", "Firmware family: grbl or tinyg2")
	flags.Int("low-water-mark", 0, "TinyG2 planner-queue low-water-mark")
	flags.String("http-addr", "", "REST server listen address")
	flags.String("websocket-addr", "", "WebSocket server listen address")
	flags.String("macro-root", "", "Root directory for loadfile G-code files")
	flags.String("database-host", "", "Macro store Postgres host (empty disables Postgres, uses in-memory store)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// viperKeys maps this command's dash-named flags onto the dotted/underscored keys
// internal/config.Config's mapstructure tags expect. Flags with no entry here (e.g. the
// logging flags slogxtCobra.AddLoggerFlags adds) bind under their own name and are ignored by
// Config's Unmarshal.
var viperKeys = map[string]string{
	"baud-rate":      "baud_rate",
	"low-water-mark": "low_water_mark",
	"http-addr":      "http_addr",
	"websocket-addr": "websocket_addr",
	"macro-root":     "macro_root",
	"database-host":  "database.host",
}

func bindFlags(flags *pflag.FlagSet) *pflag.FlagSet {
	renamed := pflag.NewFlagSet("cncstream", pflag.ContinueOnError)
	flags.VisitAll(func(f *pflag.Flag) {
		name := f.Name
		if mapped, ok := viperKeys[f.Name]; ok {
			name = mapped
		}
		renamed.AddFlag(&pflag.Flag{
			Name:        name,
			Shorthand:   f.Shorthand,
			Usage:       f.Usage,
			Value:       f.Value,
			DefValue:    f.DefValue,
			Changed:     f.Changed,
			NoOptDefVal: f.NoOptDefVal,
		})
	})
	return renamed
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	logger := log.MustLogger(ctx)

	cfg, err := config.Load(bindFlags(cmd.Flags()))
	if err != nil {
		return fmt.Errorf("cncstream: load config: %w", err)
	}
	if cfg.Port == "" {
		return fmt.Errorf("cncstream: --port is required")
	}

	macroStore, err := openMacroStore(ctx, cfg)
	if err != nil {
		return err
	}
	macros := macro.NewLookup(macroStore)
	files := macro.NewFileReader(cfg.MacroRoot)

	registry := controller.NewRegistry()

	open := func(ctx context.Context, port string, firmware protocol.FirmwareTag) (controller.ConnectedController, error) {
		return openController(ctx, cfg, registry, macros, files, port, firmware)
	}

	firmware := protocol.Grbl
	if strings.EqualFold(cfg.Firmware, "tinyg2") {
		firmware = protocol.TinyG2
	}
	connected, err := open(ctx, cfg.Port, firmware)
	if err != nil {
		return fmt.Errorf("cncstream: open %s: %w", cfg.Port, err)
	}
	defer connected.Close()

	hub := websocket.NewHub(connected, logger.WithGroup("websocket"))
	wsMux := http.NewServeMux()
	wsMux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		if err := websocket.ServeWs(hub, w, r); err != nil {
			logger.Error("WebSocket upgrade failed", "err", err)
		}
	})

	restServer := rest.NewServer(registry, open, logger.WithGroup("rest"))

	errCh := make(chan error, 2)
	go func() { errCh <- http.ListenAndServe(cfg.HTTPAddr, restServer.Handler()) }()
	go func() { errCh <- http.ListenAndServe(cfg.WebSocketAddr, wsMux) }()

	logger.Info("Serving", "httpAddr", cfg.HTTPAddr, "websocketAddr", cfg.WebSocketAddr, "port", cfg.Port, "firmware", firmware)

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case <-sigCtx.Done():
		logger.Info("Shutting down")
		return nil
	case err := <-errCh:
		return fmt.Errorf("cncstream: server: %w", err)
	}
}

func openMacroStore(ctx context.Context, cfg config.Config) (macro.Store, error) {
	if cfg.Database.Host == "" {
		return macro.NewMemoryStore(), nil
	}
	store, err := macro.NewPostgresStore(ctx, cfg.Database.DSN(), cfg.Database.MaxConnections)
	if err != nil {
		return nil, fmt.Errorf("cncstream: open macro store: %w", err)
	}
	return store, nil
}

func openController(
	ctx context.Context,
	cfg config.Config,
	registry *controller.Registry,
	macros protocol.MacroLookup,
	files protocol.FileLoader,
	port string,
	firmware protocol.FirmwareTag,
) (controller.ConnectedController, error) {
	options := protocol.Options{Port: port, BaudRate: cfg.BaudRate}
	openFn := serialport.Open
	name := port
	if addr, ok := strings.CutPrefix(port, "tcp://"); ok {
		name = addr
		openFn = serialport.OpenTCP(5 * time.Second)
	}
	transport := serialport.NewRealPort(name, options.BaudRate, openFn)

	var connected controller.ConnectedController
	switch firmware {
	case protocol.TinyG2:
		tinyG2Options := controller.TinyG2Options{Options: options, LowWaterMark: cfg.LowWaterMark}
		connected = controller.NewTinyG2Controller(tinyG2Options, transport, registry, macros, files)
	default:
		connected = controller.NewGrblController(options, transport, registry, macros, files)
	}

	// Open registers connected in registry itself (and logs the re-open-without-close
	// anomaly), so there's nothing left to do here but surface failures.
	if err := connected.(opener).Open(ctx); err != nil {
		return nil, err
	}

	return connected, nil
}

// opener narrows ConnectedController to the Open method both GrblController and
// TinyG2Controller implement but don't expose on the interface (Open is only needed once, at
// construction, by this package).
type opener interface {
	Open(ctx context.Context) error
}
