// botshepherd is a OneBot v11 websocket reverse proxy. Each configured
// connection accepts one bot client and fans its traffic out to several
// bot framework targets.
//
// Usage:
//
//	botshepherd [-config <dir>] [-db <path>] [-log-level <level>] [-debug] [-no-watch]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/Loping151/BotShepherd-sub000/pkg/bsconfig"
	"github.com/Loping151/BotShepherd-sub000/pkg/commands"
	"github.com/Loping151/BotShepherd-sub000/pkg/recordstore"
	bsshare "github.com/Loping151/BotShepherd-sub000/share"
)

var (
	configDir = flag.String("config", "config", "Configuration directory")
	dbPath    = flag.String("db", "", "Message database path (default <database.data_path>/messages.db)")
	logLevel  = flag.String("log-level", "", "Log level: error, warning, info, debug or trace (default logging.level)")
	debug     = flag.Bool("debug", false, "Shorthand for -log-level debug")
	noWatch   = flag.Bool("no-watch", false, "Do not reload the configuration when its files change")
	noRecord  = flag.Bool("no-record", false, "Do not record messages to the database")
)

func main() {
	flag.Parse()
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "botshepherd: %s\n", err)
		os.Exit(1)
	}
}

func run() error {
	logger := bsshare.NewLogger("botshepherd", bsshare.LogLevelInfo)

	store, err := bsconfig.Open(logger, *configDir)
	if err != nil {
		return err
	}
	global := store.Global()

	level := global.Logging.Level
	if *logLevel != "" {
		level = *logLevel
	}
	if *debug {
		level = "debug"
	}
	var ll bsshare.LogLevel
	if err := ll.FromString(level); err != nil {
		return err
	}
	logger.SetLogLevel(ll)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	config := &bsshare.ServerConfig{
		Routes:  store.Routes(),
		Session: bsshare.DefaultSessionConfig(),
		Policy:  store,
	}

	dispatcherOpts := commands.Options{}
	if !*noRecord {
		path := *dbPath
		if path == "" {
			path = filepath.Join(global.Database.DataPath, "messages.db")
		}
		records, err := recordstore.Open(ctx, logger, recordstore.Options{
			Path:          path,
			RetentionDays: global.Database.AutoExpireDays,
		})
		if err != nil {
			return err
		}
		defer records.Close()
		config.Persistence = records
		dispatcherOpts.Counter = records
	}
	config.Dispatcher = commands.NewDispatcher(logger, store, dispatcherOpts)

	if !*noWatch {
		watcher := bsconfig.NewWatcher(logger, store, bsconfig.DefaultDebounce)
		if err := watcher.Start(ctx); err != nil {
			logger.WLogf("Configuration hot reload unavailable: %s", err)
		} else {
			defer watcher.Close()
		}
	}

	server, err := bsshare.NewServer(logger.Fork("server"), config)
	if err != nil {
		return err
	}
	err = server.Run(ctx)
	if errors.Is(err, context.Canceled) {
		logger.ILogf("Shutting down")
		err = nil
	}
	return err
}
