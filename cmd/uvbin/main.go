package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/banshee-data/uvbin/internal/config"
	"github.com/banshee-data/uvbin/internal/coordsys"
	"github.com/banshee-data/uvbin/internal/export"
	"github.com/banshee-data/uvbin/internal/msdb"
	"github.com/banshee-data/uvbin/internal/mstest"
	"github.com/banshee-data/uvbin/internal/units"
	"github.com/banshee-data/uvbin/internal/uvbin"
	"github.com/banshee-data/uvbin/internal/version"
	"github.com/soniakeys/unit"
)

var showVersion = flag.Bool("version", false, "Print version and exit")

func main() {
	flag.Usage = func() { printUsage(os.Stderr) }
	flag.Parse()
	if *showVersion {
		fmt.Println(version.String())
		return
	}
	if flag.NArg() < 1 {
		printUsage(os.Stderr)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	command, args := flag.Arg(0), flag.Args()[1:]
	var err error
	switch command {
	case "grid":
		err = runGrid(ctx, args, os.Stdout)
	case "simulate":
		err = runSimulate(ctx, args, os.Stdout)
	case "info":
		err = runInfo(ctx, args, os.Stdout)
	case "version":
		fmt.Println(version.String())
	case "help":
		printUsage(os.Stdout)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", command)
		printUsage(os.Stderr)
		os.Exit(1)
	}
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		log.Fatalf("uvbin %s: %v", command, err)
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, `uvbin - bin visibilities onto a regular uv grid

Usage: uvbin <command> [options]

Commands:
  grid       Bin selected rows of one or more tables into a gridded table
  simulate   Write a synthetic point-source observation
  info       Print the grid record and history of a gridded table
  version    Show version
  help       Show this help message

Examples:
  uvbin grid -config config/run.example.yaml -in obs1.ms,obs2.ms -out grid.ms -fits grid.fits
  uvbin grid -config run.yaml -out grid.ms -products out/
  uvbin simulate -out sim.ms -rows 5000 -chans 16 -pols 2
  uvbin info -ms grid.ms

Every grid setting may also come from UVBIN_* environment variables.`)
}

func runGrid(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("grid", flag.ContinueOnError)
	configPath := fs.String("config", "", "Run configuration (.json, .toml, .yaml)")
	inputs := fs.String("in", "", "Comma-separated input tables (overrides config)")
	out := fs.String("out", "", "Output table (overrides config)")
	forceDisk := fs.Bool("forcedisk", false, "Grid in place on disk")
	fitsPath := fs.String("fits", "", "Also write a FITS cube here")
	fitsQuantity := fs.String("fits-quantity", "amplitude", "FITS pixel value: amplitude, phase or weight")
	plotPath := fs.String("plot", "", "Also write a uv coverage image here")
	htmlPath := fs.String("html", "", "Also write a weight spectrum chart here")
	productDir := fs.String("products", "", "Write every product not named above into this directory")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var cfg *config.RunConfig
	var err error
	if *configPath != "" {
		cfg, err = config.LoadRunConfig(*configPath)
	} else {
		cfg, err = config.LoadRunConfigFromEnv()
	}
	if err != nil {
		return err
	}
	paths := cfg.Inputs
	if *inputs != "" {
		paths = strings.Split(*inputs, ",")
	}
	if len(paths) == 0 {
		return fmt.Errorf("no input tables given")
	}
	outPath := cfg.GetOutput()
	if *out != "" {
		outPath = *out
	}
	quantity, err := export.ParseQuantity(*fitsQuantity)
	if err != nil {
		return err
	}

	first, err := msdb.Open(paths[0], msdb.ModeOld)
	if err != nil {
		return err
	}
	spec, err := cfg.ToGridSpec(ctx, first)
	first.Close()
	if err != nil {
		return err
	}

	b, err := uvbin.New(spec)
	if err != nil {
		return err
	}
	defer b.Close()
	selected := 0
	for _, p := range paths {
		ok, err := b.SelectData(ctx, strings.TrimSpace(p), cfg.Selection)
		if err != nil {
			return err
		}
		if ok {
			selected++
		}
	}
	if selected == 0 {
		return fmt.Errorf("selection matches no rows in %s", strings.Join(paths, ","))
	}
	b.SetOutputMS(outPath)
	if err := b.FillOutputMS(ctx, *forceDisk || cfg.GetForceDisk()); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "wrote %s (%d×%d×%d×%d)\n", outPath, spec.NX, spec.NY, spec.NChan, spec.NPol)

	if *productDir != "" {
		if err := os.MkdirAll(*productDir, 0o755); err != nil {
			return err
		}
		p, err := export.ProductPaths(*productDir, outPath)
		if err != nil {
			return err
		}
		if *fitsPath == "" {
			*fitsPath = p.FITS
		}
		if *plotPath == "" {
			*plotPath = p.Plot
		}
		if *htmlPath == "" {
			*htmlPath = p.HTML
		}
	}
	if *fitsPath == "" && *plotPath == "" && *htmlPath == "" {
		return nil
	}
	return writeProducts(ctx, outPath, *fitsPath, quantity, *plotPath, *htmlPath, stdout)
}

func writeProducts(ctx context.Context, grid, fitsPath string, q export.Quantity, plotPath, htmlPath string, stdout io.Writer) error {
	ms, err := msdb.Open(grid, msdb.ModeOld)
	if err != nil {
		return err
	}
	defer ms.Close()
	cube, err := export.LoadCube(ctx, ms)
	if err != nil {
		return err
	}

	if fitsPath != "" {
		if err := writeFile(fitsPath, func(w io.Writer) error { return export.WriteFITS(w, cube, q) }); err != nil {
			return err
		}
		fmt.Fprintf(stdout, "wrote %s\n", fitsPath)
	}
	if plotPath != "" {
		if err := export.PlotUVCoverage(cube, plotPath, true); err != nil {
			return err
		}
		fmt.Fprintf(stdout, "wrote %s\n", plotPath)
	}
	if htmlPath != "" {
		if err := writeFile(htmlPath, func(w io.Writer) error {
			return export.WriteWeightSpectrumHTML(w, cube, grid, "")
		}); err != nil {
			return err
		}
		fmt.Fprintf(stdout, "wrote %s\n", htmlPath)
	}
	return nil
}

func writeFile(path string, fn func(io.Writer) error) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(f)
}

func runSimulate(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("simulate", flag.ContinueOnError)
	out := fs.String("out", "sim.ms", "Output table")
	rows := fs.Int("rows", 1000, "Number of rows")
	chans := fs.Int("chans", 8, "Channels")
	pols := fs.Int("pols", 2, "Correlations: 1, 2 or 4")
	basis := fs.String("basis", "circular", "Feed basis: circular or linear")
	ants := fs.Int("ants", 8, "Antennas")
	freq := fs.String("freq", "1.4GHz", "Frequency of channel 0")
	step := fs.String("step", "1MHz", "Channel width")
	phase := fs.String("phasecenter", "J2000 13h31m08.3 +30d30m33", "Phase centre")
	maxUV := fs.Float64("maxuv", 1000, "Largest |u| and |v|, meters")
	maxW := fs.Float64("maxw", 0, "Largest |w|, meters")
	flux := fs.Float64("flux", 1, "Point source flux, Jy")
	noise := fs.Float64("noise", 0.1, "Noise rms per component, Jy")
	seed := fs.Uint("seed", 1, "Random seed")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *basis != "circular" && *basis != "linear" {
		return fmt.Errorf("basis must be circular or linear, got %q", *basis)
	}
	corr, err := coordsys.StokesFor(*basis == "linear", *pols)
	if err != nil {
		return err
	}
	f0, err := units.ParseFrequency(*freq)
	if err != nil {
		return err
	}
	df, err := units.ParseFrequency(*step)
	if err != nil {
		return err
	}
	dir, err := coordsys.ParseDirection(*phase)
	if err != nil {
		return err
	}

	ms, err := mstest.Create(ctx, *out, mstest.Config{
		NAnt:     *ants,
		SPWs:     []mstest.SPW{{NChan: *chans, FreqStart: f0, FreqStep: df}},
		Corr:     corr,
		PhaseDir: dir,
	})
	if err != nil {
		return err
	}
	err = mstest.Simulate(ctx, ms, mstest.SimConfig{
		Rows: *rows, MaxUV: *maxUV, MaxW: *maxW, Flux: *flux, Noise: *noise, Seed: uint32(*seed),
	})
	if cerr := ms.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "wrote %s (%d rows, %d channels, %v)\n", *out, *rows, *chans, corr)
	return nil
}

func runInfo(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("info", flag.ContinueOnError)
	path := fs.String("ms", "", "Gridded table")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *path == "" {
		return fmt.Errorf("-ms is required")
	}
	ms, err := msdb.Open(*path, msdb.ModeOld)
	if err != nil {
		return err
	}
	defer ms.Close()

	info, cs, err := uvbin.ReadGridInfo(ctx, ms)
	if err != nil {
		return err
	}
	ref := cs.Direction.Ref
	duv := cs.Direction.FourierIncrement(info.NX, info.NY)
	fmt.Fprintf(stdout, "grid:         %d×%d cells, %d channels, %d polarizations\n", info.NX, info.NY, info.NChan, info.NPol)
	fmt.Fprintf(stdout, "phase centre: %s\n", ref)
	fmt.Fprintf(stdout, "cell:         %.4g×%.4g arcsec (%.4g×%.4g λ in uv)\n",
		unit.Angle(cs.Direction.Inc[0]).Sec(), unit.Angle(cs.Direction.Inc[1]).Sec(), duv[0], duv[1])
	fmt.Fprintf(stdout, "spectral:     %s, ref pixel %g at %.6g Hz, step %.6g Hz\n",
		cs.Spectral.Frame, cs.Spectral.RefPix, cs.Spectral.RefFreq, cs.Spectral.Step)
	fmt.Fprintf(stdout, "stokes:       %v\n", cs.Stokes)

	hist, err := ms.History(ctx)
	if err != nil {
		return err
	}
	for _, h := range hist {
		fmt.Fprintf(stdout, "history:      %s %s: %s\n", h.RunID, h.Application, h.Message)
	}
	return nil
}
