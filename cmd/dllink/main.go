package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/bigbag/dllink/internal/config"
	"github.com/bigbag/dllink/internal/detect"
	"github.com/bigbag/dllink/internal/link"
	"github.com/bigbag/dllink/internal/observability"
	"github.com/bigbag/dllink/internal/serial"
	"github.com/bigbag/dllink/internal/station"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var (
	configFlag      string
	portFlag        string
	baudFlag        int
	addressFlag     int
	capacityFlag    int
	logLevelFlag    string
	dstFlag         int
	hexFlag         string
	metricsAddrFlag string
	windowFlag      time.Duration
)

// Set by the root command before any subcommand runs.
var (
	cfg    config.Config
	logger zerolog.Logger
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "dllink",
		Short: "Send and receive packets over a byte-stuffed serial data link",
		Long: `dllink fragments packets into CRC-16 protected, byte-stuffed frames and
carries them over a serial line between addressed stations.

Settings come from the embedded defaults, then the file given with --config,
then command-line flags.`,
		SilenceUsage:      true,
		PersistentPreRunE: setup,
	}
	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "TOML config file")
	rootCmd.PersistentFlags().StringVarP(&portFlag, "port", "p", "", "Serial port (auto-detect if not specified)")
	rootCmd.PersistentFlags().IntVarP(&baudFlag, "baud", "b", 115200, "Baud rate")
	rootCmd.PersistentFlags().IntVarP(&addressFlag, "address", "a", 0, "Local station address (0-254)")
	rootCmd.PersistentFlags().IntVar(&capacityFlag, "capacity", 8, "Payload bytes per frame (1-255)")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "info", "Log level (debug, info, warn, error, off)")

	// Send command
	sendCmd := &cobra.Command{
		Use:   "send [file]",
		Short: "Send a packet",
		Long: `Fragment a packet and transmit it over the serial port.

The payload is read from the file argument, from --hex, or from stdin.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runSend,
	}
	sendCmd.Flags().IntVarP(&dstFlag, "dst", "d", 0xFF, "Destination address (255 broadcasts)")
	sendCmd.Flags().StringVar(&hexFlag, "hex", "", "Payload as hex instead of a file")

	// Listen command
	listenCmd := &cobra.Command{
		Use:   "listen",
		Short: "Print every packet addressed to this station",
		RunE:  runListen,
	}
	listenCmd.Flags().StringVar(&metricsAddrFlag, "metrics-addr", "", "Serve prometheus metrics on this address")

	// Encode command
	encodeCmd := &cobra.Command{
		Use:   "encode <hex>",
		Short: "Print the stuffed frames for a payload",
		Args:  cobra.ExactArgs(1),
		RunE:  runEncode,
	}
	encodeCmd.Flags().IntVarP(&dstFlag, "dst", "d", 0xFF, "Destination address (255 broadcasts)")

	// Decode command
	decodeCmd := &cobra.Command{
		Use:   "decode <hex>...",
		Short: "Feed stuffed frames to a receiver and print what it does",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runDecode,
	}

	// Scan command
	scanCmd := &cobra.Command{
		Use:   "scan",
		Short: "Find serial ports carrying link traffic",
		RunE:  runScan,
	}
	scanCmd.Flags().DurationVar(&windowFlag, "window", detect.DefaultWindow, "How long to listen on each port")

	// List command
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List available serial ports",
		RunE:  runList,
	}

	// Config command
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as TOML",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cfg.Encode(os.Stdout)
		},
	}

	// Version command
	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Show version info",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("dllink %s\n", version)
			fmt.Printf("  commit: %s\n", commit)
			fmt.Printf("  built:  %s\n", date)
		},
	}

	rootCmd.AddCommand(sendCmd, listenCmd, encodeCmd, decodeCmd, scanCmd, listCmd, configCmd, versionCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// setup resolves the effective config and builds the logger.
func setup(cmd *cobra.Command, args []string) error {
	c := config.Default()
	if configFlag != "" {
		loaded, err := config.Load(configFlag)
		if err != nil {
			return err
		}
		c = loaded
	}

	flags := cmd.Flags()
	if flags.Changed("port") {
		c.Port = portFlag
	}
	if flags.Changed("baud") {
		c.Baud = baudFlag
	}
	if flags.Changed("address") {
		if addressFlag < 0 || addressFlag > 0xFF {
			return fmt.Errorf("address %d outside 0..255", addressFlag)
		}
		c.Address = byte(addressFlag)
	}
	if flags.Changed("capacity") {
		c.Capacity = capacityFlag
	}
	if flags.Changed("log-level") {
		c.LogLevel = logLevelFlag
	}
	if flags.Changed("metrics-addr") {
		c.MetricsAddr = metricsAddrFlag
	}
	if err := c.Validate(); err != nil {
		return err
	}

	cfg = c
	logger = observability.InitLogger("dllink", cfg.LogLevel, os.Stderr)
	return nil
}

func parseAddress(v int) (byte, error) {
	if v < 0 || v > 0xFF {
		return 0, fmt.Errorf("address %d outside 0..255", v)
	}
	return byte(v), nil
}

func parseHex(s string) ([]byte, error) {
	s = strings.Join(strings.Fields(s), "")
	data, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid hex: %w", err)
	}
	return data, nil
}

// openPort opens the configured port, detecting one when none is set.
func openPort() (*serial.Port, error) {
	portName := cfg.Port
	if portName == "" {
		fmt.Println("Detecting port...")
		result, err := detect.DetectPort(cfg.Baud, detect.DefaultWindow)
		if err != nil {
			return nil, fmt.Errorf("port detection failed: %w", err)
		}
		portName = result.Port
		fmt.Printf("Found link traffic on %s\n", portName)
	}

	port, err := serial.Open(portName, cfg.Baud, cfg.ReadTimeout)
	if err != nil {
		return nil, fmt.Errorf("failed to open port: %w", err)
	}

	fmt.Printf("Port: %s @ %d baud\n", port.PortName(), port.BaudRate())
	return port, nil
}

func newStation(port station.Port, opts ...station.Option) (*station.Station, error) {
	opts = append(opts,
		station.WithLogger(logger),
		station.WithRecorder(observability.NewRecorder(cfg.Name)),
	)
	return station.New(port, cfg.Link(), opts...)
}

func runSend(cmd *cobra.Command, args []string) error {
	dst, err := parseAddress(dstFlag)
	if err != nil {
		return err
	}

	var payload []byte
	switch {
	case hexFlag != "":
		payload, err = parseHex(hexFlag)
	case len(args) == 1:
		payload, err = os.ReadFile(args[0])
	default:
		payload, err = io.ReadAll(os.Stdin)
	}
	if err != nil {
		return fmt.Errorf("failed to read payload: %w", err)
	}

	frames := link.FrameCount(len(payload), cfg.Capacity)
	fmt.Printf("Payload: %d bytes in %d frame(s) to 0x%02X\n", len(payload), frames, dst)

	port, err := openPort()
	if err != nil {
		return err
	}
	defer port.Close()

	st, err := newStation(port)
	if err != nil {
		return err
	}

	bar := progressbar.NewOptions(frames,
		progressbar.OptionSetDescription("Sending"),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowBytes(false),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionThrottle(100),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)
	st.SetProgressCallback(func(current, total int) {
		bar.Set(current)
	})

	if err := st.Send(payload, dst); err != nil {
		return err
	}
	if err := port.Drain(); err != nil {
		logger.Warn().Err(err).Msg("drain failed")
	}

	bar.Finish()
	fmt.Println("\nSent!")
	return nil
}

func runListen(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	port, err := openPort()
	if err != nil {
		return err
	}
	defer port.Close()

	// Drop bytes queued before we started listening
	if err := port.Flush(); err != nil {
		logger.Warn().Err(err).Msg("flush failed")
	}

	st, err := newStation(port, station.WithHandler(func(payload []byte, src byte) {
		fmt.Printf("0x%02X: % X\n", src, payload)
	}))
	if err != nil {
		return err
	}

	if cfg.MetricsAddr != "" {
		srv := startMetrics(cfg.MetricsAddr)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
	}

	fmt.Printf("Listening as 0x%02X (Ctrl+C to stop)\n", st.Address())
	if err := st.Listen(ctx); err != nil {
		return err
	}

	printStats(st.Stats())
	return nil
}

func startMetrics(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Str("addr", addr).Msg("metrics server failed")
		}
	}()
	logger.Info().Str("addr", addr).Msg("serving metrics")
	return srv
}

func runEncode(cmd *cobra.Command, args []string) error {
	dst, err := parseAddress(dstFlag)
	if err != nil {
		return err
	}
	payload, err := parseHex(args[0])
	if err != nil {
		return err
	}

	i := 0
	tx := link.TransmitFunc(func(stuffed []byte) error {
		fmt.Printf("frame %d: % X\n", i, stuffed)
		i++
		return nil
	})
	l, err := link.New(cfg.Link(), tx, link.WithLogger(logger))
	if err != nil {
		return err
	}
	return l.Send(payload, dst)
}

func runDecode(cmd *cobra.Command, args []string) error {
	st, err := newStation(nil, station.WithHandler(func(payload []byte, src byte) {
		fmt.Printf("delivered from 0x%02X: % X\n", src, payload)
	}))
	if err != nil {
		return err
	}

	for i, arg := range args {
		raw, err := parseHex(arg)
		if err != nil {
			return fmt.Errorf("argument %d: %w", i+1, err)
		}
		for _, o := range st.Feed(raw) {
			fmt.Printf("frame: %s\n", o)
		}
	}

	if st.Errored() {
		fmt.Println("link left in error state")
	}
	return nil
}

func runScan(cmd *cobra.Command, args []string) error {
	if cfg.Port != "" {
		result, err := detect.DetectOnPort(cfg.Port, cfg.Baud, windowFlag)
		if err != nil {
			return fmt.Errorf("failed to scan %s: %w", cfg.Port, err)
		}
		printResult(result)
		return nil
	}

	fmt.Println("Scanning serial ports for link traffic...")
	results, err := detect.ListActive(cfg.Baud, windowFlag)
	if err != nil {
		return err
	}

	if len(results) == 0 {
		fmt.Println("No link traffic found")
		return nil
	}

	fmt.Printf("Found traffic on %d port(s):\n\n", len(results))
	for i := range results {
		printResult(&results[i])
		fmt.Println()
	}

	return nil
}

func printResult(r *detect.Result) {
	fmt.Printf("  Port:      %s\n", r.Port)
	fmt.Printf("  Frames:    %d\n", r.Frames)
	fmt.Printf("  Delivered: %d\n", r.Delivered)
	if r.Malformed != 0 {
		fmt.Printf("  Malformed: %d\n", r.Malformed)
	}
}

func printStats(s link.Stats) {
	fmt.Printf("\nPackets delivered: %d (%d bytes)\n", s.PacketsDelivered, s.BytesDelivered)
	for _, o := range link.Outcomes() {
		if n := s.Received[o]; n != 0 {
			fmt.Printf("  %-16s %d\n", o.String()+":", n)
		}
	}
}

func runList(cmd *cobra.Command, args []string) error {
	ports, err := serial.ListPorts()
	if err != nil {
		return err
	}

	if len(ports) == 0 {
		fmt.Println("No serial ports found")
		return nil
	}

	fmt.Println("Available serial ports:")
	for _, p := range ports {
		fmt.Printf("  %s\n", p)
	}

	return nil
}
