package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/gmsas95/hemotrack/internal/api"
	"github.com/gmsas95/hemotrack/internal/app"
	"github.com/gmsas95/hemotrack/internal/cli"
	"github.com/gmsas95/hemotrack/internal/config"
	"github.com/gmsas95/hemotrack/internal/logging"
	"github.com/gmsas95/hemotrack/internal/onboarding"
	"github.com/gmsas95/hemotrack/internal/store"
	"go.uber.org/zap"
)

var (
	configPath = flag.String("config", "", "Path to config file")
	dataDir    = flag.String("data", "", "Path to data directory")
	version    = "dev"
)

func main() {
	flag.Usage = cli.PrintExtendedHelp
	flag.Parse()

	cli.Version = version
	api.Version = version
	opts := cli.Options{ConfigPath: *configPath, DataDir: *dataDir}

	if err := config.LoadEnvFiles(); err != nil {
		log.Printf("Failed to load .env files: %v", err)
	}

	args := flag.Args()
	if len(args) > 0 {
		switch args[0] {
		case "serve":
		case "onboard":
			cli.HandleOnboardCommand(opts)
			return
		case "status":
			cli.HandleStatusCommand(opts)
			return
		case "login":
			cli.HandleLoginCommand(args[1:], opts)
			return
		case "logout":
			cli.HandleLogoutCommand(opts)
			return
		case "export":
			cli.HandleExportCommand(args[1:], opts)
			return
		case "sync":
			cli.HandleSyncCommand(args[1:], opts)
			return
		case "reminders":
			cli.HandleRemindersCommand(args[1:], opts)
			return
		case "help", "--help", "-h":
			cli.PrintExtendedHelp()
			return
		case "version", "--version", "-v":
			fmt.Printf("hemotrack version %s\n", version)
			return
		default:
			fmt.Printf("Unknown command %q\n\n", args[0])
			cli.PrintExtendedHelp()
			os.Exit(1)
		}
	}

	if onboarding.CheckFirstRun(*dataDir) && *configPath == "" && term.IsTerminal(int(os.Stdin.Fd())) {
		fmt.Println("It looks like this is your first time running hemotrack.")
		fmt.Print("Run the setup wizard? (Y/n): ")

		reader := bufio.NewReader(os.Stdin)
		response, _ := reader.ReadString('\n')
		response = strings.TrimSpace(strings.ToLower(response))

		if response == "" || response == "y" || response == "yes" {
			cli.HandleOnboardCommand(opts)
			return
		}
	}

	application := initApp()
	if err := application.RunServer(); err != nil {
		application.Logger.Error("Server stopped with error", zap.Error(err))
		application.Logger.Sync()
		os.Exit(1)
	}
	application.Logger.Sync()
}

func initApp() *app.App {
	cfg, err := config.Load(*configPath, *dataDir)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	logger.Info("Starting hemotrack",
		zap.String("version", version),
		zap.String("config", cfg.Path()),
		zap.String("data_dir", cfg.Storage.DataDir),
	)

	st, err := store.New(cfg)
	if err != nil {
		logger.Fatal("Failed to initialize store", zap.Error(err))
	}
	logger = logging.WithStore(logger, st, zap.WarnLevel)

	application, err := app.New(cfg, st, logger, version)
	if err != nil {
		logger.Fatal("Failed to initialize app", zap.Error(err))
	}
	return application
}
