package main

import (
	"errors"
	"flag"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/arqnet/gbn/internal/config"
	"github.com/arqnet/gbn/internal/handler"
	"github.com/arqnet/gbn/internal/logging"
)

const (
	appName    = "GBN websocket echo server"
	appVersion = "v1.0.0"
)

func main() {
	hostFlag := flag.String("host", "", "server listen host")
	portFlag := flag.String("port", "", "server listen port")
	logLevelFlag := flag.String("log-level", "", "log level (debug, info, warn, error)")
	configFlag := flag.String("config", "", "path to YAML config file")
	windowFlag := flag.Int("window", 0, "GBN window size")
	intervalFlag := flag.Duration("interval", 0, "retransmission timer interval")
	helpFlag := flag.Bool("help", false, "show help")
	versionFlag := flag.Bool("version", false, "show version")

	flag.Parse()

	if *helpFlag {
		showHelp()
		return
	}

	if *versionFlag {
		fmt.Printf("%s %s\n", appName, appVersion)
		return
	}

	opts := config.LoadOptions{
		ConfigFile:    strings.TrimSpace(*configFlag),
		Host:          strings.TrimSpace(*hostFlag),
		Port:          strings.TrimSpace(*portFlag),
		LogLevel:      strings.TrimSpace(*logLevelFlag),
		WindowSize:    *windowFlag,
		TimerInterval: *intervalFlag,
	}

	cfg, err := config.LoadWithOverrides(opts)
	if err != nil {
		logging.Error("failed to load config: %v", err)
		return
	}

	logging.SetLevelFromString(cfg.Logging.Level)

	server := createServer(cfg)
	logging.Info("starting server on %s:%s (window=%d interval=%v)",
		cfg.Server.Host, cfg.Server.Port, cfg.Protocol.WindowSize, cfg.Protocol.TimerInterval)

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logging.Error("server failed: %v", err)
	}
}

func createServer(cfg *config.Config) *http.Server {
	addr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)

	h := handler.New(cfg, logging.Default())

	mux := http.NewServeMux()
	mux.HandleFunc("/arq", h.Connect)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})

	return &http.Server{
		Addr:         addr,
		Handler:      requestLoggingMiddleware(mux),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
}

func requestLoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logging.Info("%s %s %s %s", r.RemoteAddr, r.Method, r.URL.Path, time.Since(start))
	})
}

func showHelp() {
	fmt.Println(appName)
	fmt.Println("USAGE: gbnserver [options]")
	fmt.Println("OPTIONS:")
	fmt.Println("  -host        Set server listen host (default 0.0.0.0)")
	fmt.Println("  -port        Set server listen port (default 8080)")
	fmt.Println("  -log-level   Set log level (debug, info, warn, error)")
	fmt.Println("  -config      Path to YAML config file")
	fmt.Println("  -window      GBN window size")
	fmt.Println("  -interval    Retransmission timer interval, e.g. 500ms")
	fmt.Println("  -version     Show version information")
	fmt.Println("  -help        Show this help message")
	fmt.Println("ENVIRONMENT VARIABLES: SERVER_HOST, SERVER_PORT, LOG_LEVEL, GBN_WINDOW_SIZE, GBN_TIMER_INTERVAL, GBN_CONFIG_FILE")
	fmt.Println("EXAMPLES: gbnserver -port 8080 -window 8 -interval 500ms")
}
