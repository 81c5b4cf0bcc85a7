package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/mohammed-shakir/farm-segmentation/internal/core/config"
	"github.com/mohammed-shakir/farm-segmentation/internal/pmfby"
)

const usage = `usage: pmfbyctl <health|threshold|predict> [flags]

  threshold -lat F -lng F -crop NAME -season NAME [-district NAME]
  predict   -lat F -lng F -crop NAME -season NAME -area HA [-year N] [-district NAME] [-threshold KG]

PMFBY_API_URL, PMFBY_API_KEY and PMFBY_TIMEOUT configure the client.
`

func main() {
	// missing .env is fine
	_ = godotenv.Load()
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprint(stderr, usage)
		return 2
	}
	cfg := config.FromEnv().PMFBY
	client := pmfby.New(cfg.URL, cfg.APIKey, cfg.Timeout)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		out any
		err error
	)
	switch args[0] {
	case "health":
		out, err = client.Health(ctx)
	case "threshold":
		var req pmfby.ThresholdRequest
		fs := flag.NewFlagSet("threshold", flag.ContinueOnError)
		fs.SetOutput(stderr)
		fs.Float64Var(&req.Latitude, "lat", 0, "farm latitude")
		fs.Float64Var(&req.Longitude, "lng", 0, "farm longitude")
		fs.StringVar(&req.Crop, "crop", "", "crop name, e.g. Rice")
		fs.StringVar(&req.Season, "season", "", "Kharif, Rabi or Summer")
		fs.StringVar(&req.District, "district", "", "district override")
		if err := fs.Parse(args[1:]); err != nil {
			return 2
		}
		out, err = client.Threshold(ctx, req)
	case "predict":
		var req pmfby.PredictRequest
		fs := flag.NewFlagSet("predict", flag.ContinueOnError)
		fs.SetOutput(stderr)
		fs.Float64Var(&req.Latitude, "lat", 0, "farm latitude")
		fs.Float64Var(&req.Longitude, "lng", 0, "farm longitude")
		fs.StringVar(&req.Crop, "crop", "", "crop name, e.g. Rice")
		fs.StringVar(&req.Season, "season", "", "Kharif, Rabi or Summer")
		fs.Float64Var(&req.Area, "area", 0, "farm area in hectares")
		fs.IntVar(&req.Year, "year", 0, "crop year (server default: last year)")
		fs.StringVar(&req.District, "district", "", "district override")
		fs.Float64Var(&req.Threshold, "threshold", 0, "threshold override in kg/ha")
		if err := fs.Parse(args[1:]); err != nil {
			return 2
		}
		out, err = client.Predict(ctx, req)
	default:
		fmt.Fprintf(stderr, "unknown command %q\n\n%s", args[0], usage)
		return 2
	}

	if err != nil {
		var apiErr *pmfby.APIError
		if errors.As(err, &apiErr) {
			fmt.Fprintf(stderr, "api error %d: %s\n", apiErr.Status, apiErr.Body)
		} else {
			fmt.Fprintln(stderr, err)
		}
		return 1
	}
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	return 0
}
