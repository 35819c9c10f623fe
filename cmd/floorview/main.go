// Floorview - plant floor console
//
// Shows the plant floor diagram served by a backend, follows live device
// telemetry, and republishes violations to MQTT, Valkey and Kafka. The same
// consoles are reachable from the terminal, the browser and the REST API.
package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/crypto/bcrypt"

	"floorview/brokertest"
	"floorview/config"
	"floorview/engine"
	"floorview/logging"
	"floorview/ssh"
	"floorview/tui"
	"floorview/web"
)

// Version is set at build time via -ldflags
var Version = "dev"

// defaultAdmin is created on first start when no web user exists.
const (
	defaultAdmin         = "admin"
	defaultAdminPassword = "admin"
	unsecuredDeadline    = 30 * time.Minute
	logFileMaxSize       = 10 << 20
)

// preprocessLogDebugFlag handles --log-debug without a value by injecting "all" as the default.
func preprocessLogDebugFlag() {
	args := os.Args[1:]
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--log-debug" || arg == "-log-debug" {
			if i+1 >= len(args) || (len(args[i+1]) > 0 && args[i+1][0] == '-') {
				os.Args = append(os.Args[:i+2], append([]string{"all"}, os.Args[i+2:]...)...)
			}
			return
		}
		if len(arg) > 11 && (arg[:12] == "--log-debug=" || arg[:11] == "-log-debug=") {
			return
		}
	}
}

// Command line flags
var (
	configPath  = flag.String("config", config.DefaultPath(), "Path to configuration file")
	showVersion = flag.Bool("version", false, "Show version and exit")
	noTUI       = flag.Bool("d", false, "Disable local TUI (headless mode)")
	noTUILong   = flag.Bool("no-tui", false, "Disable local TUI (headless mode)")
	namespace   = flag.String("namespace", "", "Set namespace (saved to config)")
	backendURL  = flag.String("backend", "", "Backend base URL (overrides config)")
	device      = flag.String("device", "", "Device to open in the live view on start (overrides config)")
	role        = flag.String("role", config.RoleAdmin, "Role of the terminal console (admin, operator, viewer)")
	httpPort    = flag.Int("p", 0, "HTTP listen port (overrides config)")
	httpHost    = flag.String("host", "", "HTTP bind address (overrides config)")
	adminUser   = flag.String("admin-user", "", "Create/update admin user (saves to config)")
	adminPass   = flag.String("admin-pass", "", "Password for admin user (saves to config)")
	noAPI       = flag.Bool("no-api", false, "Disable REST API (ephemeral)")
	noWebUI     = flag.Bool("no-webui", false, "Disable browser UI (ephemeral)")
	sshPort     = flag.Int("ssh-port", 0, "SSH listen port (overrides config)")
	sshPass     = flag.String("ssh-pass", "", "SSH password for remote TUI access (enables SSH)")
	sshKeys     = flag.String("ssh-keys", "", "Path to authorized_keys file or directory (enables SSH)")
	notifyAddr  = flag.String("notify", "", "Listen address for the notification stream (enables it)")
	logFile     = flag.String("log", "", "Path to log file (optional)")
	logDebug    = flag.String("log-debug", "", "Enable debug logging to debug.log")

	// Stress test flags
	testBrokers   = flag.Bool("stress-test-republishing", false, "Run stress tests for republishing and exit")
	testDuration  = flag.Duration("test-duration", 10*time.Second, "Duration for each broker stress test")
	testRegisters = flag.Int("test-registers", 100, "Number of simulated registers per device")
	testDevices   = flag.Int("test-devices", 50, "Number of simulated devices for stress test")
)

func main() {
	preprocessLogDebugFlag()

	flag.Parse()

	if *showVersion {
		fmt.Printf("floorview %s\n", Version)
		os.Exit(0)
	}

	headless := *noTUI || *noTUILong

	cfg, err := config.Load(*configPath)
	if err != nil {
		fatalf("Error loading config: %v", err)
	}

	// --namespace is the one flag that is persisted.
	if *namespace != "" {
		if !config.IsValidNamespace(*namespace) {
			fatalf("Error: invalid namespace '%s' (use alphanumeric, hyphen, underscore, dot)", *namespace)
		}
		cfg.Namespace = *namespace
		if err := cfg.Save(*configPath); err != nil {
			fatalf("Error saving config: %v", err)
		}
		fmt.Printf("Namespace set to '%s' and saved to config\n", *namespace)
	}

	applyOverrides(cfg)

	if *adminUser != "" && *adminPass != "" {
		if err := setWebUser(cfg, *adminUser, *adminPass, false); err != nil {
			fatalf("Error configuring admin user: %v", err)
		}
		fmt.Printf("Admin user '%s' configured for web UI\n", *adminUser)
	}

	if err := cfg.Validate(); err != nil {
		fatalf("Config error: %v", err)
	}
	if !config.RoleAllows(*role, config.RoleViewer) {
		fatalf("Error: unknown role '%s'", *role)
	}

	if *testBrokers {
		runBrokerTests(cfg)
		return
	}

	run(cfg, headless)
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

// applyOverrides copies command line settings into cfg for this run only.
func applyOverrides(cfg *config.Config) {
	setString := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	setInt := func(dst *int, v int) {
		if v != 0 {
			*dst = v
		}
	}
	setString(&cfg.Backend.BaseURL, *backendURL)
	setString(&cfg.Backend.Device, *device)
	setString(&cfg.Web.Host, *httpHost)
	setInt(&cfg.Web.Port, *httpPort)
	setInt(&cfg.SSH.Port, *sshPort)

	cfg.Web.API.Enabled = cfg.Web.API.Enabled && !*noAPI
	cfg.Web.UI.Enabled = cfg.Web.UI.Enabled && !*noWebUI
	if *noAPI && *noWebUI {
		cfg.Web.Enabled = false
	}

	if *sshPass != "" || *sshKeys != "" {
		setString(&cfg.SSH.Password, *sshPass)
		setString(&cfg.SSH.AuthorizedKeys, *sshKeys)
		cfg.SSH.Enabled = true
	}
	if *notifyAddr != "" {
		cfg.Notify.Listen = *notifyAddr
		cfg.Notify.Enabled = true
	}
}

// runBrokerTests stress tests every enabled publisher and exits non-zero
// when one fails.
func runBrokerTests(cfg *config.Config) {
	runner := brokertest.NewRunner(cfg, brokertest.TestConfig{
		Duration:     *testDuration,
		NumRegisters: *testRegisters,
		NumDevices:   *testDevices,
	}, os.Stdout)
	for _, r := range runner.Run() {
		if !r.Success {
			os.Exit(1)
		}
	}
}

// setWebUser creates or updates a web user with a bcrypt password hash and
// saves the config.
func setWebUser(cfg *config.Config, username, password string, mustChange bool) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hashing password: %w", err)
	}

	if existing := cfg.FindWebUser(username); existing != nil {
		existing.PasswordHash = string(hash)
		existing.Role = config.RoleAdmin
		existing.MustChangePassword = mustChange
	} else {
		cfg.AddWebUser(config.WebUser{
			Username:           username,
			PasswordHash:       string(hash),
			Role:               config.RoleAdmin,
			MustChangePassword: mustChange,
		})
	}

	if cfg.Web.UI.SessionSecret == "" {
		secret := make([]byte, 32)
		rand.Read(secret)
		cfg.Web.UI.SessionSecret = base64.StdEncoding.EncodeToString(secret)
	}

	return cfg.Save(*configPath)
}

// run is the unified startup flow for both TUI and headless modes.
func run(cfg *config.Config, headless bool) {
	tui.InitDebugStore(1000)

	var fileLogger *logging.FileLogger
	if *logFile != "" {
		var err error
		fileLogger, err = logging.NewFileLogger(*logFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: Failed to open log file: %v\n", err)
		} else {
			fileLogger.SetMaxSize(logFileMaxSize)
			tui.GetDebugStore().SetFileLogger(fileLogger)
		}
	}

	var debugLoggerFile *logging.DebugLogger
	if *logDebug != "" {
		var err error
		debugLoggerFile, err = logging.NewDebugLogger("debug.log")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: Failed to open debug log: %v\n", err)
		} else {
			filter := *logDebug
			if filter == "all" || filter == "true" || filter == "1" {
				filter = ""
			}
			debugLoggerFile.SetFilter(filter)
			logging.SetGlobalDebugLogger(debugLoggerFile)
			if filter == "" {
				tui.StoreLog("Debug logging enabled (all categories) - writing to debug.log")
			} else {
				tui.StoreLog("Debug logging enabled (filter: %s) - writing to debug.log", filter)
			}
		}
	}

	eng := engine.New(engine.Config{
		AppConfig:  cfg,
		ConfigPath: *configPath,
		LogFunc:    tui.StoreLog,
	})
	eng.Start()

	var webServer *web.Server
	if cfg.Web.Enabled {
		if cfg.Web.UI.Enabled && len(cfg.Web.UI.Users) == 0 {
			if err := setWebUser(cfg, defaultAdmin, defaultAdminPassword, true); err != nil {
				tui.StoreLogLevel("ERROR", "Failed to create default admin: %v", err)
			} else {
				fmt.Printf("Created web user %s/%s, change the password within %v\n", defaultAdmin, defaultAdminPassword, unsecuredDeadline)
			}
		}

		ws := web.NewServer(&cfg.Web, eng)
		if err := ws.Start(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: Failed to start web server on port %d: %v\n", cfg.Web.Port, err)
			fmt.Fprintf(os.Stderr, "Continuing without HTTP server.\n")
		} else {
			webServer = ws
			fmt.Printf("Web server at %s\n", ws.Address())
			if cfg.Web.API.Enabled {
				fmt.Printf("  REST API: %s/api/\n", ws.Address())
			}
			if cfg.Web.UI.Enabled {
				fmt.Printf("  Browser UI: %s/\n", ws.Address())
				watchDefaultAdmin(cfg, ws)
			}
		}
	}

	var sshServer *ssh.Server
	if cfg.SSH.Enabled {
		srv := ssh.NewServer(cfg.SSH, eng)
		srv.SetOnSessionConnect(func(remoteAddr string) {
			tui.StoreLogLevel("SSH", "Client connected from %s (sessions: %d)", remoteAddr, srv.SessionCount())
		})
		srv.SetOnSessionDisconnect(func(remoteAddr string) {
			tui.StoreLogLevel("SSH", "Client disconnected from %s (sessions: %d)", remoteAddr, srv.SessionCount())
		})
		if err := srv.Start(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: Failed to start SSH server: %v\n", err)
		} else {
			sshServer = srv
			fmt.Printf("SSH console at %s\n", srv.Addr())
		}
	}

	if headless {
		if sshServer == nil {
			fmt.Fprintf(os.Stderr, "Warning: Running headless with no SSH. Use --ssh-pass for remote access.\n")
		}
		fmt.Println("Running in headless mode. Press Ctrl+C to stop.")

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigChan
		fmt.Printf("\nReceived %v, shutting down...\n", sig)

		shutdownDone := make(chan struct{})
		go func() {
			if sshServer != nil {
				sshServer.Stop()
			}
			eng.Stop()
			if webServer != nil {
				webServer.Stop()
			}
			close(shutdownDone)
		}()

		select {
		case <-shutdownDone:
		case <-time.After(2 * time.Second):
		}
	} else {
		// Keep runtime errors from corrupting the terminal display.
		stderrPath := filepath.Join(filepath.Dir(*configPath), "floorview-crash.log")
		if f, err := os.OpenFile(stderrPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644); err == nil {
			redirectStderr(f)
			defer f.Close()
		}

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		console, err := eng.OpenConsole(ctx, *role)
		cancel()
		if err != nil {
			// The console still shows the failure and can retry.
			tui.StoreLogLevel("ERROR", "Initial load failed: %v", err)
		}

		app := tui.NewApp(eng, console)
		if err := app.Run(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if sshServer != nil {
			sshServer.Stop()
		}
		app.Shutdown()
		if webServer != nil {
			webServer.Stop()
		}
	}

	if fileLogger != nil {
		fileLogger.Close()
	}
	if debugLoggerFile != nil {
		debugLoggerFile.Close()
	}
	fmt.Println("Stopped")
}

// watchDefaultAdmin stops the server after unsecuredDeadline while the
// default admin still has its initial password.
func watchDefaultAdmin(cfg *config.Config, ws *web.Server) {
	pending := func() bool {
		u := cfg.FindWebUser(defaultAdmin)
		return u != nil && u.MustChangePassword
	}
	if !pending() {
		return
	}

	ws.SetUnsecuredDeadline(unsecuredDeadline, func() {
		tui.StoreLogLevel("ERROR", "Web server stopped: the default admin password was not changed")
	})
	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			if !ws.IsRunning() {
				return
			}
			if !pending() {
				ws.ClearUnsecuredDeadline()
				tui.StoreLog("Default admin password changed, web server deadline cleared")
				return
			}
		}
	}()
}
