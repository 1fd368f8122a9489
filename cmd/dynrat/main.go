// Command dynrat computes loop ratings from a stage series and, with
// -calibrate, fits the section roughness to field measurements first.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/okian/dynrat/internal/adapters/nwis"
	"github.com/okian/dynrat/internal/adapters/sectionfile"
	service "github.com/okian/dynrat/internal/app"
	"github.com/okian/dynrat/internal/config"
	"github.com/okian/dynrat/internal/domain/calibrate"
	"github.com/okian/dynrat/internal/domain/model"
	"github.com/okian/dynrat/pkg/logger"
	"github.com/okian/dynrat/pkg/metrics"
)

const (
	exitError    = 1
	exitRejected = 2
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		os.Stderr.WriteString("dynrat: " + err.Error() + "\n")
		if errors.Is(err, calibrate.ErrAcceptance) {
			os.Exit(exitRejected)
		}
		os.Exit(exitError)
	}
}

type options struct {
	envFile      string
	geometry     string
	stage        string
	measurements string
	calibrate    bool
	out          string
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	var o options
	fset := flag.NewFlagSet("dynrat", flag.ContinueOnError)
	fset.SetOutput(stderr)
	fset.StringVar(&o.envFile, "env", ".env", "optional dotenv file loaded before the config")
	fset.StringVar(&o.geometry, "geometry", "", "cross-section description (YAML)")
	fset.StringVar(&o.stage, "stage", "", "stage series (CSV with DateTime,Value and optional Discharge)")
	fset.StringVar(&o.measurements, "measurements", "", "field measurements (NWIS RDB)")
	fset.BoolVar(&o.calibrate, "calibrate", false, "fit roughness to the measurements before solving")
	fset.StringVar(&o.out, "out", "", "rating curve output (CSV); stdout when empty")
	if err := fset.Parse(args); err != nil {
		return o, err
	}
	switch {
	case o.geometry == "":
		return o, errors.New("-geometry is required")
	case o.calibrate && o.measurements == "":
		return o, errors.New("-calibrate needs -measurements")
	case !o.calibrate && o.stage == "":
		return o, errors.New("-stage is required unless calibrating")
	}
	return o, nil
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	o, err := parseFlags(args, stderr)
	if err != nil {
		return err
	}

	if err := godotenv.Load(o.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", o.envFile, err)
	}

	cfg, err := config.Load(ctx)
	if err != nil {
		return err
	}

	if err := logger.Init(logger.WithWriter(stderr), logger.WithFormat(cfg.LogFormat)); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		return fmt.Errorf("%w: %v", config.ErrInvalidConfig, err)
	}
	log := logger.Get()

	mgr := metrics.NewManager(metrics.WithNamespace("dynrat"))
	metrics.SetGlobal(mgr)
	if cfg.MetricsFile != "" {
		defer func() {
			if werr := mgr.WriteTextfile(cfg.MetricsFile); werr != nil {
				log.Error(ctx, "metrics textfile not written", logger.String("path", cfg.MetricsFile), logger.Error(werr))
			}
		}()
	}

	params, err := service.ParamsFromConfig(cfg)
	if err != nil {
		return err
	}
	loc, err := nwis.Location(cfg.Site.Timezone)
	if err != nil {
		return err
	}

	desc, err := sectionfile.Load(o.geometry)
	if err != nil {
		return err
	}
	log.Info(ctx, "section loaded",
		logger.String("name", desc.Name),
		logger.Any("subsections", desc.Subsections),
		logger.Any("roughness", desc.CrossSection.Roughness))

	var series model.StageSeries
	if o.stage != "" {
		series, err = readStage(o.stage, loc)
		if err != nil {
			return err
		}
	}

	svc := service.New(service.WithParams(params), service.WithLogger(log))

	var curve model.RatingCurve
	var runErr error
	if o.calibrate {
		ms, err := readMeasurements(o.measurements)
		if err != nil {
			return err
		}
		rep, err := svc.Calibrate(ctx, desc.CrossSection, ms, series)
		if rep == nil {
			return err
		}
		runErr = err
		fmt.Fprint(stdout, rep.Summary())
		curve = rep.Curve
	} else {
		curve, err = svc.Solve(ctx, desc.CrossSection, series)
		if err != nil {
			return err
		}
	}

	if len(curve.Points) > 0 {
		if err := writeCurve(o.out, stdout, curve); err != nil {
			return err
		}
	}
	return runErr
}

func readStage(path string, loc *time.Location) (model.StageSeries, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	series, err := nwis.ReadStageCSV(f, loc)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return series, nil
}

func readMeasurements(path string) ([]model.FieldMeasurement, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	ms, err := nwis.ReadMeasurements(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return ms, nil
}

func writeCurve(path string, stdout io.Writer, curve model.RatingCurve) (err error) {
	if path == "" {
		return nwis.WriteCurveCSV(stdout, curve)
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	return nwis.WriteCurveCSV(f, curve)
}
