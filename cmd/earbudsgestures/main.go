package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/term"
)

const version = "1.0.0"

func printVersion() {
	fmt.Printf("earbudsgestures v%s\n", version)
	fmt.Println("Control Spotify playback with the media keys of Bluetooth earbuds")
}

func printUsage() {
	printVersion()
	fmt.Println()
	fmt.Println("USAGE:")
	fmt.Println("  sudo earbudsgestures [OPTIONS]")
	fmt.Println()
	fmt.Println("DESCRIPTION:")
	fmt.Println("  Lists input devices that expose media keys, lets you pick your earbuds,")
	fmt.Println("  drops root privileges, authorizes with Spotify in your browser, then maps")
	fmt.Println("  next / previous / play-pause presses to Spotify playback control.")
	fmt.Println()
	fmt.Println("OPTIONS:")
	fmt.Println("  -config string")
	fmt.Println("        YAML config file (optional)")
	fmt.Println()
	fmt.Println("  -device string")
	fmt.Println("        Input device to use without prompting (e.g. /dev/input/event12)")
	fmt.Println()
	fmt.Println("  -device-glob string")
	fmt.Printf("        Device nodes to scan (default %q)\n", defaultDeviceGlob)
	fmt.Println()
	fmt.Println("  -callback-addr string")
	fmt.Println("        Listen address of the authorization callback")
	fmt.Println("        (default: host and port of the redirect URI registered with Spotify)")
	fmt.Println()
	fmt.Println("  -no-browser")
	fmt.Println("        Do not try to open the authorization URL automatically")
	fmt.Println()
	fmt.Println("  -no-drop-privileges")
	fmt.Println("        Keep running as the current user (for users in the 'input' group)")
	fmt.Println()
	fmt.Println("  -user string")
	fmt.Println("        User to switch to after selecting the device (default $SUDO_USER)")
	fmt.Println()
	fmt.Println("  -feed-addr string")
	fmt.Println("        Serve dispatched actions on ws://ADDR/ws (disabled by default)")
	fmt.Println()
	fmt.Println("  -log-level string")
	fmt.Println("        Log level: error, warn, info, debug (default \"info\")")
	fmt.Println()
	fmt.Println("  -version")
	fmt.Println("        Print version and exit")
	fmt.Println()
	fmt.Println("  -help")
	fmt.Println("        Print this help message")
	fmt.Println()
	fmt.Println("CREDENTIALS:")
	fmt.Printf("  Either spotify.client_id / client_secret / redirect_uri in the config, or a JSON file\n")
	fmt.Printf("  (default %q) with SPOTIPY_CLIENT_ID, SPOTIPY_CLIENT_SECRET, SPOTIPY_REDIRECT_URI.\n", defaultCredentialsFile)
	fmt.Println()
	fmt.Println("NOTES:")
	fmt.Println("  - Reading input devices needs root; privileges are dropped before the browser opens")
	fmt.Println("  - If nothing happens on key presses, rerun and pick another device")
	fmt.Println()
}

func main() {
	os.Exit(run())
}

// run returns the process exit status.
func run() int {
	var (
		configPath   = flag.String("config", "", "YAML config file")
		device       = flag.String("device", "", "Input device to use without prompting")
		deviceGlob   = flag.String("device-glob", defaultDeviceGlob, "Device nodes to scan")
		callbackAddr = flag.String("callback-addr", defaultCallbackAddr, "Listen address of the authorization callback")
		noBrowser    = flag.Bool("no-browser", false, "Do not open the authorization URL automatically")
		noDrop       = flag.Bool("no-drop-privileges", false, "Keep running as the current user")
		userName     = flag.String("user", "", "User to switch to after selecting the device")
		feedAddr     = flag.String("feed-addr", "", "Serve dispatched actions on ws://ADDR/ws")
		logLevelStr  = flag.String("log-level", "info", "Log level: error, warn, info, debug")
		showVersion  = flag.Bool("version", false, "Print version and exit")
		showHelp     = flag.Bool("help", false, "Print help message")
	)

	flag.Usage = printUsage
	flag.Parse()

	if *showHelp {
		printUsage()
		return 0
	}
	if *showVersion {
		printVersion()
		return 0
	}

	cfg := DefaultConfig()
	if *configPath != "" {
		loaded, err := LoadConfigFile(*configPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			return 1
		}
		cfg = loaded
	}

	// Only flags given on the command line override the file.
	var overrides FlagOverrides
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "device":
			overrides.Device = device
		case "device-glob":
			overrides.DeviceGlob = deviceGlob
		case "callback-addr":
			overrides.CallbackAddr = callbackAddr
		case "no-browser":
			overrides.NoBrowser = noBrowser
		case "no-drop-privileges":
			overrides.NoDrop = noDrop
		case "user":
			overrides.User = userName
		case "feed-addr":
			overrides.FeedAddr = feedAddr
		case "log-level":
			overrides.LogLevel = logLevelStr
		}
	})
	overrides.Apply(&cfg)

	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}
	logLevel, _ := parseLogLevel(cfg.Logging.Level)
	logger := newLogger(os.Stderr, logLevel)

	creds, err := cfg.ResolveCredentials()
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		return 1
	}
	if err := cfg.CheckCallbackAddr(creds); err != nil {
		logger.Warn("authorization callback may be unreachable", "error", err)
	}

	console := os.Stdout

	// ------------------------------------------------------------------------
	// Setup phase: enumerate, select, drop privileges, authorize
	// ------------------------------------------------------------------------
	backend := newEvdevBackend(cfg.Input.Glob)
	dev, err := openInputDevice(cfg, backend, os.Stdin, console, logger)
	if err != nil {
		logger.Error("no input device", "error", err)
		return 1
	}
	defer dev.Close()
	logger.Info("input device selected", "device", dev.Path(), "name", dev.Name())

	// Handle shutdown. Installed after the prompt so Ctrl-C there still
	// terminates the process directly.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Privileges.Drop {
		u, err := dropPrivileges(PrivilegeOptions{User: cfg.Privileges.User, RunDir: cfg.Privileges.RunDir})
		if err != nil {
			logger.Error("failed to drop privileges", "error", err, "tip", "use -no-drop-privileges if you are not root")
			return 1
		}
		logger.Info("dropped privileges", "user", u.Username, "uid", u.Uid)
	}

	auth := NewAuthenticator(cfg.ToAuthConfig(creds), console, logger)
	client, err := auth.Authenticate(ctx)
	if err != nil {
		if ctx.Err() != nil {
			logger.Info("shutting down")
			return 0
		}
		logger.Error("authorization failed", "error", err)
		return 1
	}

	var publisher ActionPublisher
	if cfg.Feed.ListenAddr != "" {
		feed := NewFeedServer(cfg.Feed.ListenAddr, logger, HubConfig{})
		feed.SetDevice(dev.Path())
		publisher = feed
		go func() {
			if err := feed.Run(ctx); err != nil {
				logger.Error("action feed error", "error", err)
			}
		}()
	}

	fmt.Fprintln(console, "[+] Setup done!")
	fmt.Fprintln(console, " ! INFO: If it doesn't work and you had several devices to choose from, rerun and try another device.")
	fmt.Fprintln(console, "[+] Now you can use your gestures to control Spotify :)")

	// ------------------------------------------------------------------------
	// Run phase: the dispatcher owns the device and the client until exit
	// ------------------------------------------------------------------------
	go func() {
		<-ctx.Done()
		logger.Info("shutting down")
		// Unblocks the pending read; Run then returns ctx.Err().
		_ = dev.Close()
	}()

	dispatcher := NewDispatcher(client, console, publisher, withDevice(logger, dev.Path()))
	err = dispatcher.Run(ctx, dev, dev.Path())

	var ioErr *DeviceIOError
	switch {
	case errors.Is(err, context.Canceled):
		return 0
	case errors.As(err, &ioErr):
		logger.Error("input device stopped", "error", err)
		return 1
	default:
		logger.Error("dispatch loop stopped", "error", err)
		return 1
	}
}

// openInputDevice returns the configured device, or runs enumeration and the
// interactive prompt.
func openInputDevice(cfg Config, backend deviceBackend, in io.Reader, out io.Writer, logger *slog.Logger) (InputDevice, error) {
	if cfg.Input.Device != "" {
		dev, err := backend.Open(cfg.Input.Device)
		if err != nil {
			return nil, &DeviceAccessError{Path: cfg.Input.Device, Err: err}
		}
		return dev, nil
	}

	fmt.Fprintln(out, "[+] Scanning for potential AVRCP-related input devices...")
	candidates, err := ListCandidateDevices(backend, logger)
	if err != nil {
		return nil, err
	}

	if f, ok := in.(*os.File); ok && !term.IsTerminal(int(f.Fd())) {
		logger.Warn("stdin is not a terminal; reading the device number from it anyway")
	}
	return SelectDevice(candidates, in, out, backend)
}
