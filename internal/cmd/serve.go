package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/spf13/cobra"

	"github.com/taskmind/taskmind/internal/config"
	"github.com/taskmind/taskmind/internal/handlers"
	"github.com/taskmind/taskmind/internal/logger"
	"github.com/taskmind/taskmind/internal/services"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "🌐 Start the terminal session web server",
	Long: `Start the local web server for the Task-Mind GUI.

Binds to loopback by default; the server holds no state across restarts,
so a restarted process has no live sessions until clients recreate or
resume them.`,
	RunE: runServe,
}

var (
	serveHost       string
	servePort       int
	serveConfigPath string
	serveDebug      bool
)

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVarP(&serveHost, "host", "H", config.DefaultHost, "Host to bind to")
	serveCmd.Flags().IntVarP(&servePort, "port", "p", config.DefaultPort, "Port to listen on")
	serveCmd.Flags().StringVar(&serveConfigPath, "config", "", "Path to config file (default ~/.task-mind/config.yaml)")
	serveCmd.Flags().BoolVar(&serveDebug, "debug", false, "Enable debug logging")
}

func runServe(cmd *cobra.Command, args []string) error {
	level := logger.LevelFromEnv()
	if serveDebug {
		level = logger.LevelDebug
	}
	logger.Configure(level, serveDebug)

	configPath := serveConfigPath
	if configPath == "" {
		configPath = config.Runtime.ConfigFilePath()
	}
	cfg, err := config.LoadServerConfig(configPath)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("host") {
		cfg.Host = serveHost
	}
	if cmd.Flags().Changed("port") {
		cfg.Port = servePort
	}

	// One registry and one mapper per process, injected into every
	// handler that needs them.
	registry := services.NewRegistry(cfg.HistoryBytes)
	mapper := services.NewMapper(registry, cfg.SessionsDir)
	mapper.Start()

	app := fiber.New(fiber.Config{
		AppName:               "taskmind",
		DisableStartupMessage: true,
	})

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	v1 := app.Group("/v1")
	handlers.NewTerminalHandler(registry, cfg.SessionsDir).RegisterRoutes(v1)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Infof("🛑 Shutdown signal received")
		_ = app.Shutdown()
	}()

	logger.Infof("🚀 Serving on http://%s", cfg.Addr())
	if err := app.Listen(cfg.Addr()); err != nil {
		return err
	}

	// Stop background reconciliation first, then reap every child.
	mapper.Stop()
	registry.CloseAll()
	return nil
}
