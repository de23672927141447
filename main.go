package main

import (
	"context"
	"errors"
	"fmt"
	"github.com/ejacobg/gdo-checker/cdb"
	"github.com/ejacobg/gdo-checker/checker"
	"github.com/ejacobg/gdo-checker/config"
	"github.com/ejacobg/gdo-checker/inmem"
	"github.com/ejacobg/gdo-checker/jsonfile"
	"github.com/ejacobg/gdo-checker/notify"
	"github.com/ejacobg/gdo-checker/snapshot"
	"github.com/ejacobg/gdo-checker/source"
	"github.com/ejacobg/gdo-checker/status"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"
)

var (
	appName = "gdo-checker"
	appSha  = "populated-at-link-time"
)

const defaultConfigFile = "/usr/local/etc/gdo-checker/config.json"

func main() {
	host, _ := os.Hostname()
	rootLogger := logrus.New()
	logger := rootLogger.WithFields(logrus.Fields{
		"app":  appName,
		"sha":  appSha,
		"host": host,
	})

	app := cli.NewApp()
	app.Name = appName
	app.Usage = "notify recipients about documents newly published on a web page"
	app.Version = appSha
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:   "config, c",
			Value:  defaultConfigFile,
			EnvVar: "GDO_CHECKER_CONFIG",
			Usage:  "The configuration file (YAML or JSON)",
		},
		cli.BoolFlag{
			Name:  "debug, dry-run",
			Usage: "Run everything but do not send any mails",
		},
	}
	app.Action = func(c *cli.Context) error {
		return runOnce(c.String("config"), c.Bool("debug"), rootLogger, logger)
	}
	app.Commands = []cli.Command{
		{
			Name:  "watch",
			Usage: "Keep running and check the page on a schedule",
			Flags: []cli.Flag{
				cli.StringFlag{
					Name:  "schedule",
					Value: "@every 1h",
					Usage: "The cron schedule for subsequent checks",
				},
				cli.StringFlag{
					Name:  "status-addr",
					Usage: "The address to serve the status endpoint on (disabled if empty)",
				},
			},
			Action: func(c *cli.Context) error {
				return runWatch(c.GlobalString("config"), c.GlobalBool("debug"), c.String("schedule"), c.String("status-addr"), rootLogger, logger)
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		logger.WithField("err", err).Error("shutting down due to error")
		os.Exit(1)
	}
}

func runOnce(cfgFile string, dryRun bool, rootLogger *logrus.Logger, logger *logrus.Entry) error {
	chk, closeFn, err := setupChecker(cfgFile, dryRun, rootLogger, logger)
	if err != nil {
		return err
	}
	defer closeFn()

	ctx, cancelFn := context.WithCancel(context.Background())
	defer cancelFn()
	go cancelOnSignal(ctx, cancelFn, logger)

	_, err = chk.Run(ctx)
	return err
}

func runWatch(cfgFile string, dryRun bool, schedule, statusAddr string, rootLogger *logrus.Logger, logger *logrus.Entry) error {
	chk, closeFn, err := setupChecker(cfgFile, dryRun, rootLogger, logger)
	if err != nil {
		return err
	}
	defer closeFn()

	ctx, cancelFn := context.WithCancel(context.Background())
	defer cancelFn()

	tracker := status.NewTracker()
	runFn := func() {
		startedAt := time.Now()
		report, err := chk.Run(ctx)
		if err != nil {
			logger.WithField("err", err).Error("check failed")
		}
		tracker.Record(startedAt, time.Now(), report, err)
	}

	// Runs never overlap; a run still in progress when the next one is due
	// causes that one to be skipped.
	cronLog := cronLogger{logger.WithField("component", "scheduler")}
	sched := cron.New(cron.WithLogger(cronLog), cron.WithChain(cron.SkipIfStillRunning(cronLog)))
	if _, err = sched.AddFunc(schedule, runFn); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", schedule, err)
	}

	var srv *http.Server
	if statusAddr != "" {
		srv = &http.Server{Addr: statusAddr, Handler: tracker.Handler(), ReadHeaderTimeout: 10 * time.Second}
		go func() {
			logger.WithField("addr", statusAddr).Info("serving status endpoint")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.WithField("err", err).Error("status endpoint failed")
				cancelFn()
			}
		}()
	}

	logger.WithField("schedule", schedule).Info("watching for new documents")
	sched.Start()
	go cancelOnSignal(ctx, cancelFn, logger)
	<-ctx.Done()

	<-sched.Stop().Done()
	if srv != nil {
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancelShutdown()
		_ = srv.Shutdown(shutdownCtx)
	}
	logger.Info("shutdown complete")
	return nil
}

func setupChecker(cfgFile string, dryRun bool, rootLogger *logrus.Logger, logger *logrus.Entry) (*checker.Checker, func(), error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, err
	}
	if err = configureLogger(rootLogger, cfg.Log); err != nil {
		return nil, nil, err
	}
	logger.WithField("file", cfg.File).Debug("configuration loaded")

	if dryRun {
		logger.Warn(strings.Repeat("+", 60))
		logger.Warn("NOTE: Running in DEBUG mode!")
		logger.Warn("  - Not sending any mails at all.")
		logger.Warn(strings.Repeat("+", 60))
	}

	store, err := getSnapshotStore(cfg.Snapshot, logger)
	if err != nil {
		return nil, nil, err
	}
	closeFn := func() {
		if c, ok := store.(io.Closer); ok {
			_ = c.Close()
		}
	}

	extractor, err := source.NewExtractor(cfg.Selector, cfg.Extension)
	if err != nil {
		closeFn()
		return nil, nil, fmt.Errorf("%w: %v", config.ErrInvalid, err)
	}
	locale, err := notify.LookupLocale(cfg.Language)
	if err != nil {
		closeFn()
		return nil, nil, fmt.Errorf("%w: %v", config.ErrInvalid, err)
	}

	recipients := make([]notify.Recipient, 0, len(cfg.Email.Recipients))
	for _, rec := range cfg.Email.Recipients {
		recipients = append(recipients, notify.Recipient{Name: rec.Name, Address: rec.Address})
	}

	host, _ := os.Hostname()
	chk, err := checker.New(checker.Config{
		URL:    cfg.URL,
		Source: source.NewPage(source.NewFetcher(nil, cfg.Timeout, appName+"/"+appSha), extractor),
		Store:  store,
		Mailer: notify.NewSMTPMailer(notify.SMTPConfig{
			Host:     cfg.Email.Sender.Server,
			Port:     cfg.Email.Sender.Port,
			User:     cfg.Email.Sender.User,
			Password: cfg.Email.Sender.Password,
		}),
		Recipients:    recipients,
		SendDelay:     cfg.SendDelay,
		DryRun:        dryRun,
		Locale:        locale,
		SubjectPrefix: cfg.SubjectPrefix,
		Footer:        appSha + "@" + host,
		Logger:        logger,
	})
	if err != nil {
		closeFn()
		return nil, nil, err
	}
	return chk, closeFn, nil
}

func configureLogger(l *logrus.Logger, cfg config.LogConfig) error {
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return fmt.Errorf("%w: %v", config.ErrInvalid, err)
	}
	l.SetLevel(level)
	if cfg.Format == "json" {
		l.SetFormatter(new(logrus.JSONFormatter))
	}
	return nil
}

func getSnapshotStore(snapshotURI string, logger *logrus.Entry) (snapshot.Store, error) {
	uri, err := url.Parse(snapshotURI)
	if err != nil {
		return nil, fmt.Errorf("could not parse snapshot URI: %w", err)
	}

	switch uri.Scheme {
	case "":
		logger.WithField("path", snapshotURI).Debug("using snapshot file")
		return jsonfile.NewStore(snapshotURI), nil
	case "file":
		logger.WithField("path", uri.Path).Debug("using snapshot file")
		return jsonfile.NewStore(uri.Path), nil
	case "in-memory":
		logger.Info("using in-memory snapshot store; state is lost on exit")
		return inmem.NewStore(), nil
	case "postgresql":
		logger.Info("using CDB snapshot store")
		return cdb.NewStore(snapshotURI)
	default:
		return nil, fmt.Errorf("unsupported snapshot URI scheme: %q", uri.Scheme)
	}
}

func cancelOnSignal(ctx context.Context, cancelFn context.CancelFunc, logger *logrus.Entry) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGHUP, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	select {
	case s := <-sigCh:
		logger.WithField("signal", s.String()).Infof("shutting down due to signal")
		cancelFn()
	case <-ctx.Done():
	}
}

// cronLogger adapts a logrus entry to cron.Logger.
type cronLogger struct {
	entry *logrus.Entry
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.entry.WithFields(toFields(keysAndValues)).Debug(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.entry.WithFields(toFields(keysAndValues)).WithField("err", err).Error(msg)
}

func toFields(keysAndValues []interface{}) logrus.Fields {
	fields := make(logrus.Fields, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		fields[fmt.Sprint(keysAndValues[i])] = keysAndValues[i+1]
	}
	return fields
}
