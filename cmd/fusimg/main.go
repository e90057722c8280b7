package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/airbusgeo/godal"
	shellwords "github.com/mattn/go-shellwords"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"k8s.io/apimachinery/pkg/api/resource"

	"github.com/fusimg/fusimg/internal/ferr"
	"github.com/fusimg/fusimg/internal/geoinfo"
	"github.com/fusimg/fusimg/internal/kernel"
	"github.com/fusimg/fusimg/internal/logx"
	"github.com/fusimg/fusimg/internal/options"
	"github.com/fusimg/fusimg/internal/parallel"
	"github.com/fusimg/fusimg/internal/planner"
	"github.com/fusimg/fusimg/internal/raster"
	"github.com/fusimg/fusimg/internal/store"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	godal.RegisterInternalDrivers()

	l, err := zap.NewProduction()
	if err != nil {
		l = zap.NewNop()
	}
	defer l.Sync()
	logx.Init(l)

	rootCmd := newFusimgCommand()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		logx.L().Error("fusimg failed", zap.Error(err))
		os.Exit(1)
	}
}

// inputSpec is one --input flag value, tag=date=path.
type inputSpec struct {
	tag  string
	date int
	path string
}

func parseInput(s string) (inputSpec, error) {
	parts := strings.SplitN(s, "=", 3)
	if len(parts) != 3 {
		return inputSpec{}, ferr.Newf(ferr.InvalidArgument, "--input must be tag=date=path, got %q", s)
	}
	date, err := strconv.Atoi(parts[1])
	if err != nil {
		return inputSpec{}, ferr.Wrap(ferr.InvalidArgument, err, fmt.Sprintf("--input date in %q", s))
	}
	return inputSpec{tag: parts[0], date: date, path: parts[2]}, nil
}

func parseArea(s string) (raster.Rect, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return raster.Rect{}, ferr.Newf(ferr.InvalidArgument, "--area must be x,y,w,h, got %q", s)
	}
	vals := make([]int, 4)
	for i, p := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return raster.Rect{}, ferr.Wrap(ferr.InvalidArgument, err, "--area")
		}
		vals[i] = v
	}
	return raster.Rect{X: vals[0], Y: vals[1], W: vals[2], H: vals[3]}, nil
}

func parseInts(s string) ([]int, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	var out []int
	for _, p := range strings.Split(s, ",") {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, ferr.Wrap(ferr.InvalidArgument, err, "date list")
		}
		out = append(out, v)
	}
	return out, nil
}

// kernelSwitches is the parsed form of --kernel-opts, a free-form
// gdal_translate-style switch string parsed with shellwords the way
// mcog.go parses --mainSwitches, checked against a typed flag set
// before being folded into an OptionBundle.
type kernelSwitches struct {
	numClasses       float64
	strictFiltering  bool
	doublePairMode   bool
	logScale         float64
	numNeighbors     int
	resolutionFactor float64
	useLocalTol      bool
}

func parseKernelOpts(raw string) (kernelSwitches, error) {
	sw := kernelSwitches{numClasses: 4, numNeighbors: 4, resolutionFactor: 1}
	tokens, err := shellwords.Parse(raw)
	if err != nil {
		return sw, ferr.Wrap(ferr.InvalidArgument, err, "--kernel-opts")
	}
	for i := 0; i < len(tokens); i++ {
		switch tokens[i] {
		case "--num-classes":
			i++
			sw.numClasses, err = strconv.ParseFloat(tokens[i], 64)
		case "--strict-filtering":
			sw.strictFiltering = true
		case "--double-pair-mode":
			sw.doublePairMode = true
		case "--log-scale":
			i++
			sw.logScale, err = strconv.ParseFloat(tokens[i], 64)
		case "--num-neighbors":
			i++
			sw.numNeighbors, err = strconv.Atoi(tokens[i])
		case "--resolution-factor":
			i++
			sw.resolutionFactor, err = strconv.ParseFloat(tokens[i], 64)
		case "--use-local-tol":
			sw.useLocalTol = true
		default:
			return sw, ferr.Newf(ferr.InvalidArgument, "unknown kernel-opts switch %q", tokens[i])
		}
		if err != nil {
			return sw, ferr.Wrap(ferr.InvalidArgument, err, "--kernel-opts")
		}
	}
	return sw, nil
}

func newFusimgCommand() *cobra.Command {
	var (
		inputs     []string
		pairDatesS string
		predDatesS string
		kernelName string
		kernelOpts string
		highTag    string
		lowTag     string
		areaS      string
		windowSize int
		workers    int
		tileSize   int
		ramCeiling string
		outputTmpl string
	)

	cmd := &cobra.Command{
		Use:          "fusimg",
		Short:        "spatio-temporal image fusion (STARFM/ESTARFM/FitFC)",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
	}
	flags := cmd.Flags()
	flags.StringArrayVar(&inputs, "input", nil, "tag=date=path, repeatable")
	flags.StringVar(&pairDatesS, "pair-dates", "", "comma-separated pair dates")
	flags.StringVar(&predDatesS, "pred-dates", "", "comma-separated prediction dates")
	flags.StringVar(&kernelName, "kernel", "starfm", "starfm|estarfm|fitfc")
	flags.StringVar(&kernelOpts, "kernel-opts", "", "free-form kernel switches, e.g. \"--num-classes 6 --strict-filtering\"")
	flags.StringVar(&highTag, "high-tag", "high", "store tag for the fine-resolution pair images")
	flags.StringVar(&lowTag, "low-tag", "low", "store tag for the coarse-resolution images")
	flags.StringVar(&areaS, "area", "", "x,y,w,h prediction area in pixels")
	flags.IntVar(&windowSize, "window-size", 31, "odd sliding window size in pixels")
	flags.IntVar(&workers, "workers", 4, "concurrent tile workers")
	flags.IntVar(&tileSize, "tile-size", 1024, "tile size in pixels")
	flags.StringVar(&ramCeiling, "ram-ceiling", "", "store memory at or above which the next segment's pairs load after the current segment instead of in the background, e.g. 2Gi (empty = unlimited)")
	flags.StringVar(&outputTmpl, "output", "out-%d.tif", "output path template, %d replaced with the prediction date")
	cmd.MarkFlagRequired("input")
	cmd.MarkFlagRequired("pair-dates")
	cmd.MarkFlagRequired("pred-dates")
	cmd.MarkFlagRequired("area")

	cmd.RunE = func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		sw, err := parseKernelOpts(kernelOpts)
		if err != nil {
			return err
		}
		area, err := parseArea(areaS)
		if err != nil {
			return err
		}
		pairDates, err := parseInts(pairDatesS)
		if err != nil {
			return err
		}
		predDates, err := parseInts(predDatesS)
		if err != nil {
			return err
		}
		var ceiling resource.Quantity
		if ramCeiling != "" {
			ceiling, err = resource.ParseQuantity(ramCeiling)
			if err != nil {
				return ferr.Wrap(ferr.InvalidArgument, err, "--ram-ceiling")
			}
		}

		paths := map[string]map[int]string{}
		for _, raw := range inputs {
			in, err := parseInput(raw)
			if err != nil {
				return err
			}
			if paths[in.tag] == nil {
				paths[in.tag] = map[int]string{}
			}
			paths[in.tag][in.date] = in.path
		}

		st := store.New()
		load := func(ctx context.Context, tag string, date int) (*raster.Raster, geoinfo.Proxy, error) {
			path, ok := paths[tag][date]
			if !ok {
				return nil, nil, ferr.Newf(ferr.NotFound, "no --input for tag %q date %d", tag, date)
			}
			return loadPath(ctx, path)
		}

		doublePair := kernelName == "estarfm" || (kernelName == "starfm" && sw.doublePairMode)
		jp, err := planner.New(st, load, highTag, lowTag, ceiling, doublePair)
		if err != nil {
			return err
		}

		par := parallel.New(workers, tileSize)

		process := func(ctx context.Context, job planner.Job) error {
			bundle, newKernel, err := buildBundle(kernelName, windowSize, area, highTag, lowTag, job, sw)
			if err != nil {
				return err
			}
			logx.L().Info("predicting", logx.Date(job.PredDate), logx.Kernel(kernelName))

			var out *raster.Raster
			if newKernel().Tileable() {
				out, err = par.Run(ctx, newKernel, bundle, st, job.PredDate, nil)
			} else {
				// FitFC declares Tileable()==false (§4.4.3 Constraint: its
				// bicubic residual upsampling needs the whole sample area's
				// borders), so it runs directly instead of through the
				// Parallelizer, which would otherwise refuse it outright.
				k := newKernel()
				if err = k.ProcessOptions(bundle); err != nil {
					return err
				}
				out, err = k.Predict(ctx, st, job.PredDate, nil)
			}
			if err != nil {
				return err
			}
			return writeOutput(outputTmpl, job.PredDate, out)
		}

		return jp.Run(ctx, pairDates, predDates, process)
	}

	return cmd
}

func buildBundle(kernelName string, windowSize int, area raster.Rect, highTag, lowTag string, job planner.Job, sw kernelSwitches) (options.OptionBundle, func() kernel.FusionKernel, error) {
	switch kernelName {
	case "starfm":
		opts := []options.StarfmOption{
			options.WithNumClasses(sw.numClasses),
			options.WithStrictFiltering(sw.strictFiltering),
			options.WithLogScale(sw.logScale),
		}
		if job.Pair3 != nil {
			opts = append(opts, options.WithPairDate3(*job.Pair3), options.WithDoublePairMode(true))
		}
		o, err := options.NewStarfmOptions(windowSize, area, highTag, lowTag, job.Pair1, opts...)
		if err != nil {
			return nil, nil, err
		}
		return o, func() kernel.FusionKernel { return kernel.NewStarfm() }, nil
	case "estarfm":
		if job.Pair3 == nil {
			return nil, nil, ferr.New(ferr.InvalidArgument, "estarfm requires a bracketing pair on both sides")
		}
		o, err := options.NewEstarfmOptions(windowSize, area, highTag, lowTag, job.Pair1, *job.Pair3,
			options.WithEstarfmNumClasses(sw.numClasses), options.WithUseLocalTol(sw.useLocalTol))
		if err != nil {
			return nil, nil, err
		}
		return o, func() kernel.FusionKernel { return kernel.NewEstarfm() }, nil
	case "fitfc":
		o, err := options.NewFitFCOptions(windowSize, area, highTag, lowTag, job.Pair1, sw.numNeighbors, sw.resolutionFactor)
		if err != nil {
			return nil, nil, err
		}
		return o, func() kernel.FusionKernel { return kernel.NewFitFC() }, nil
	default:
		return nil, nil, ferr.Newf(ferr.InvalidArgument, "unknown kernel %q", kernelName)
	}
}

func writeOutput(tmpl string, date int, r *raster.Raster) error {
	path := fmt.Sprintf(tmpl, date)
	f, err := os.Create(path)
	if err != nil {
		return ferr.Wrap(ferr.IO, err, fmt.Sprintf("create %s", path))
	}
	defer f.Close()
	if err := raster.EncodeStripedTIFF(f, r); err != nil {
		return err
	}
	logx.L().Info("wrote prediction", zap.String("path", path))
	return nil
}
