package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/go-pkgz/fileutils"
	"github.com/go-pkgz/lgr"
	"github.com/go-pkgz/repeater"
	"github.com/jessevdk/go-flags"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/commently/toxguard/app/moderator"
	"github.com/commently/toxguard/app/storage"
	"github.com/commently/toxguard/app/storage/engine"
	"github.com/commently/toxguard/app/webapi"
	"github.com/commently/toxguard/lib/toxic"
)

type options struct {
	Server struct {
		ListenAddr string `long:"listen" env:"LISTEN" default:":8080" description:"listen address"`
		AuthPasswd string `long:"auth-passwd" env:"AUTH_PASSWD" default:"" description:"basic auth password for moderator routes"`
	} `group:"server" namespace:"server" env-namespace:"SERVER"`

	DB struct {
		Type       string `long:"type" env:"TYPE" default:"sqlite" choice:"sqlite" choice:"postgres" description:"database type"`
		SqliteFile string `long:"sqlite-file" env:"SQLITE_FILE" default:"data/toxguard.db" description:"sqlite database file"`
		Postgres   string `long:"postgres" env:"POSTGRES" default:"" description:"postgres connection string"`
	} `group:"db" namespace:"db" env-namespace:"DB"`

	Files struct {
		Dataset string `long:"dataset" env:"DATASET" default:"data/train.csv" description:"training dataset csv"`
		Model   string `long:"model" env:"MODEL" default:"data/model.json" description:"model artifact location"`
	} `group:"files" namespace:"files" env-namespace:"FILES"`

	Train struct {
		Alpha      float64 `long:"alpha" env:"ALPHA" default:"1" description:"laplace smoothing factor"`
		Seed       int64   `long:"seed" env:"SEED" default:"42" description:"shuffle seed for reproducible training"`
		SplitRatio float64 `long:"split-ratio" env:"SPLIT_RATIO" default:"0.8" description:"train/test split ratio"`
	} `group:"train" namespace:"train" env-namespace:"TRAIN"`

	Logger struct {
		Enabled    bool   `long:"enabled" env:"ENABLED" description:"enable rotated audit log"`
		FileName   string `long:"file" env:"FILE" default:"toxguard-audit.log" description:"location of audit log"`
		MaxSize    string `long:"max-size" env:"MAX_SIZE" default:"100M" description:"maximum size before it gets rotated"`
		MaxBackups int    `long:"max-backups" env:"MAX_BACKUPS" default:"10" description:"maximum number of old log files to retain"`
	} `group:"logger" namespace:"logger" env-namespace:"LOGGER"`

	Threshold      float64       `long:"threshold" env:"THRESHOLD" default:"0" description:"aggregate toxic probability threshold, 0 for argmax"`
	ReportThrottle time.Duration `long:"report-throttle" env:"REPORT_THROTTLE" default:"10m" description:"window suppressing repeat reports, 0 to disable"`

	Training   bool `long:"train" description:"train a model from the dataset and exit"`
	CheckModel bool `long:"check-model" description:"validate the model artifact and exit"`
	Dbg        bool `long:"dbg" env:"DEBUG" description:"debug mode"`
}

var revision = "local"

func main() {
	fmt.Printf("toxguard %s\n", revision)
	var opts options
	p := flags.NewParser(&opts, flags.PrintErrors|flags.PassDoubleDash|flags.HelpFlag)
	p.SubcommandsOptional = true
	if _, err := p.Parse(); err != nil {
		if err.(*flags.Error).Type != flags.ErrHelp {
			log.Printf("[ERROR] cli error: %v", err)
		}
		os.Exit(2)
	}

	setupLog(opts.Dbg, opts.Server.AuthPasswd)
	log.Printf("[DEBUG] options: %+v", opts)

	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		// catch signal and invoke graceful termination
		stop := make(chan os.Signal, 1)
		signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
		<-stop
		log.Printf("[WARN] interrupt signal")
		cancel()
	}()

	if err := execute(ctx, opts); err != nil {
		log.Printf("[ERROR] %v", err)
		os.Exit(1)
	}
}

func execute(ctx context.Context, opts options) error {
	if opts.Training {
		return train(opts)
	}
	if opts.CheckModel {
		return checkModel(opts.Files.Model)
	}
	return server(ctx, opts)
}

// train builds a model from the csv dataset and writes the artifact,
// backing up the previous one first
func train(opts options) error {
	fh, err := os.Open(opts.Files.Dataset)
	if err != nil {
		return fmt.Errorf("can't open dataset %s: %w", opts.Files.Dataset, err)
	}
	defer fh.Close()

	trainer := toxic.NewTrainer(toxic.TrainerConfig{
		Alpha:      opts.Train.Alpha,
		Seed:       opts.Train.Seed,
		SplitRatio: opts.Train.SplitRatio,
	})

	samples, err := trainer.LoadCSV(fh)
	if err != nil {
		return fmt.Errorf("can't load dataset %s: %w", opts.Files.Dataset, err)
	}
	log.Printf("[INFO] loaded %d samples from %s", len(samples), opts.Files.Dataset)

	model, report, err := trainer.Train(samples)
	if err != nil {
		return fmt.Errorf("training failed: %w", err)
	}
	fmt.Print(report.String())

	// keep the previous artifact around in case the new model misbehaves
	if _, err := os.Stat(opts.Files.Model); err == nil {
		backup := opts.Files.Model + ".bak"
		if err := fileutils.CopyFile(opts.Files.Model, backup); err != nil {
			return fmt.Errorf("can't backup model to %s: %w", backup, err)
		}
		log.Printf("[INFO] previous model backed up to %s", backup)
	}

	if err := model.Save(opts.Files.Model); err != nil {
		return fmt.Errorf("can't save model to %s: %w", opts.Files.Model, err)
	}
	log.Printf("[INFO] model saved to %s, vocabulary %d tokens", opts.Files.Model, model.VocabSize)
	return nil
}

// checkModel loads and validates the model artifact
func checkModel(path string) error {
	model, err := toxic.LoadModel(path)
	if err != nil {
		return fmt.Errorf("model check failed: %w", err)
	}
	fmt.Printf("model ok: classes %v, vocabulary %d tokens, trained %s\n",
		model.Classes, model.VocabSize, model.TrainedAt.Format(time.RFC3339))
	return nil
}

// server runs the web api until the context is canceled
func server(ctx context.Context, opts options) error {
	db, err := makeDB(ctx, opts)
	if err != nil {
		return err
	}
	defer db.Close()

	comments, err := storage.NewComments(ctx, db)
	if err != nil {
		return fmt.Errorf("can't make comments storage: %w", err)
	}
	notifications, err := storage.NewNotifications(ctx, db)
	if err != nil {
		return fmt.Errorf("can't make notifications storage: %w", err)
	}

	classifier := toxic.NewClassifier(toxic.Config{Threshold: opts.Threshold})
	if err := classifier.LoadFromFile(opts.Files.Model); err != nil {
		log.Printf("[WARN] no model loaded from %s, all comments will be approved: %v", opts.Files.Model, err)
	}
	go func() {
		if _, err := os.Stat(opts.Files.Model); err != nil {
			log.Printf("[WARN] model watch disabled, %s not found", opts.Files.Model)
			return
		}
		if err := moderator.WatchModel(ctx, opts.Files.Model, classifier.LoadFromFile); err != nil {
			log.Printf("[WARN] model watch failed: %v", err)
		}
	}()

	auditWr, err := makeAuditWriter(opts)
	if err != nil {
		return fmt.Errorf("can't make audit writer: %w", err)
	}
	defer auditWr.Close()

	svc := moderator.NewService(classifier, comments, notifications,
		moderator.NewReportThrottle(opts.ReportThrottle, 10000), moderator.NewAuditLog(auditWr))

	srv := webapi.NewServer(webapi.Config{
		Version:    revision,
		ListenAddr: opts.Server.ListenAddr,
		Moderator:  svc,
		Classifier: classifier,
		AuthPasswd: opts.Server.AuthPasswd,
		Dbg:        opts.Dbg,
	})
	return srv.Run(ctx)
}

// makeDB connects to the requested database engine, retrying postgres a few
// times to survive container startup races
func makeDB(ctx context.Context, opts options) (*engine.SQL, error) {
	switch opts.DB.Type {
	case "sqlite":
		db, err := engine.NewSqlite(opts.DB.SqliteFile)
		if err != nil {
			return nil, fmt.Errorf("can't open sqlite db %s: %w", opts.DB.SqliteFile, err)
		}
		return db, nil
	case "postgres":
		if opts.DB.Postgres == "" {
			return nil, errors.New("postgres connection string is required for db.type=postgres")
		}
		var db *engine.SQL
		err := repeater.NewDefault(5, time.Second).Do(ctx, func() error {
			var e error
			db, e = engine.NewPostgres(ctx, opts.DB.Postgres)
			return e
		})
		if err != nil {
			return nil, fmt.Errorf("can't connect to postgres: %w", err)
		}
		return db, nil
	}
	return nil, fmt.Errorf("unsupported db type %q", opts.DB.Type)
}

// makeAuditWriter creates the moderation audit log writer,
// a rotated lumberjack file if enabled
func makeAuditWriter(opts options) (io.WriteCloser, error) {
	if !opts.Logger.Enabled {
		return nopWriteCloser{io.Discard}, nil
	}

	sizeParse := func(inp string) (uint64, error) {
		if inp == "" {
			return 0, errors.New("empty value")
		}
		for i, sfx := range []string{"k", "m", "g", "t"} {
			if strings.HasSuffix(inp, strings.ToUpper(sfx)) || strings.HasSuffix(inp, strings.ToLower(sfx)) {
				val, err := strconv.Atoi(inp[:len(inp)-1])
				if err != nil {
					return 0, fmt.Errorf("can't parse %s: %w", inp, err)
				}
				return uint64(float64(val) * math.Pow(float64(1024), float64(i+1))), nil
			}
		}
		return strconv.ParseUint(inp, 10, 64)
	}

	maxSize, perr := sizeParse(opts.Logger.MaxSize)
	if perr != nil {
		return nil, fmt.Errorf("can't parse logger MaxSize: %w", perr)
	}
	maxSize /= 1048576

	log.Printf("[INFO] audit log enabled for %s, max size %dM", opts.Logger.FileName, maxSize)
	return &lumberjack.Logger{
		Filename:   opts.Logger.FileName,
		MaxSize:    int(maxSize), // in MB
		MaxBackups: opts.Logger.MaxBackups,
		Compress:   true,
		LocalTime:  true,
	}, nil
}

type nopWriteCloser struct{ io.Writer }

func (n nopWriteCloser) Close() error { return nil }

func setupLog(dbg bool, secrets ...string) {
	logOpts := []lgr.Option{lgr.Msec, lgr.LevelBraces, lgr.StackTraceOnError}
	if dbg {
		logOpts = []lgr.Option{lgr.Debug, lgr.CallerFile, lgr.CallerFunc, lgr.Msec, lgr.LevelBraces, lgr.StackTraceOnError}
	}

	colorizer := lgr.Mapper{
		ErrorFunc:  func(s string) string { return color.New(color.FgHiRed).Sprint(s) },
		WarnFunc:   func(s string) string { return color.New(color.FgRed).Sprint(s) },
		InfoFunc:   func(s string) string { return color.New(color.FgYellow).Sprint(s) },
		DebugFunc:  func(s string) string { return color.New(color.FgWhite).Sprint(s) },
		CallerFunc: func(s string) string { return color.New(color.FgBlue).Sprint(s) },
		TimeFunc:   func(s string) string { return color.New(color.FgCyan).Sprint(s) },
	}
	logOpts = append(logOpts, lgr.Map(colorizer))

	secrets = func(ss []string) (res []string) {
		for _, s := range ss {
			if s != "" {
				res = append(res, s)
			}
		}
		return res
	}(secrets)
	if len(secrets) > 0 {
		logOpts = append(logOpts, lgr.Secret(secrets...))
	}
	lgr.SetupStdLogger(logOpts...)
	lgr.Setup(logOpts...)
}
