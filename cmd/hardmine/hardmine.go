package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"strings"
	"syscall"

	"github.com/akamensky/argparse"
	"github.com/cyclopcam/hardmine/pkg/nn"
	"github.com/cyclopcam/hardmine/pkg/slidingwin"
	"github.com/cyclopcam/hardmine/pkg/syncx"
	"github.com/cyclopcam/hardmine/server/config"
	"github.com/cyclopcam/hardmine/server/groundtruth"
	"github.com/cyclopcam/hardmine/server/imageload"
	"github.com/cyclopcam/hardmine/server/orchestrator"
	"github.com/cyclopcam/hardmine/server/sampledb"
	"github.com/cyclopcam/hardmine/server/worker"
	"github.com/cyclopcam/logs"
)

func check(err error) {
	if err != nil {
		panic(err)
	}
}

type frameDetections struct {
	Frame string   `json:"frame"`
	Boxes []nn.Box `json:"boxes"`
	Error string   `json:"error,omitempty"`
}

func main() {
	parser := argparse.NewParser("hardmine", "Run a sliding window detector over images, and mine hard examples for the next round of training")
	configFile := parser.String("c", "config", &argparse.Options{Help: "YAML config file", Required: false})
	input := parser.String("i", "input", &argparse.Options{Help: "Image file, directory of images, or .txt file with one image path per line", Required: true})
	modelFile := parser.String("m", "model", &argparse.Options{Help: "Detector model JSON (overrides config)", Required: false})
	threads := parser.Int("t", "threads", &argparse.Options{Help: "Number of detection workers (overrides config)", Required: false, Default: 0})
	datasetDir := parser.String("o", "output", &argparse.Options{Help: "Directory where the mined dataset is written (overrides config)", Required: false})
	gtDir := parser.String("g", "groundtruth", &argparse.Options{Help: "Annotation directory (overrides config)", Required: false})
	mine := parser.Flag("", "mine", &argparse.Options{Help: "Enable bootstrap mining"})
	noMine := parser.Flag("", "nomine", &argparse.Options{Help: "Only run detection, even if the config enables mining"})
	detectionsFile := parser.String("d", "detections", &argparse.Options{Help: "Write the detections of every frame to this JSON file", Required: false})
	err := parser.Parse(os.Args)
	if err != nil {
		fmt.Print(parser.Usage(err))
		os.Exit(1)
	}

	logger, err := logs.NewLog()
	check(err)

	cfg := config.DefaultConfig()
	if *configFile != "" {
		cfg, err = config.LoadConfig(*configFile)
		check(err)
	}
	if *modelFile != "" {
		cfg.Model = *modelFile
	}
	if *threads != 0 {
		cfg.Threads = *threads
	}
	if *datasetDir != "" {
		cfg.Dataset.Dir = *datasetDir
	}
	if *gtDir != "" {
		cfg.GroundTruth.Dir = *gtDir
	}
	if *mine {
		cfg.Bootstrap.Enabled = true
	}
	if *noMine {
		cfg.Bootstrap.Enabled = false
	}
	check(cfg.Validate())
	if cfg.Model == "" {
		fmt.Printf("No model. Use --model, or set 'model' in the config file\n")
		os.Exit(1)
	}

	model, err := slidingwin.LoadModel(cfg.Model)
	check(err)
	logger.Infof("Loaded %v model %v (%vx%v window, %v classes)", model.Architecture, cfg.Model, model.Width, model.Height, len(model.Classes))

	paths, err := listImages(*input)
	check(err)
	if len(paths) == 0 {
		fmt.Printf("No images found in %v\n", *input)
		os.Exit(1)
	}

	// Frames are submitted by reference, and each worker decodes its own images
	frames := make([]nn.Frame, len(paths))
	for i, p := range paths {
		frames[i] = nn.Frame{Name: p}
	}

	var catalog *sampledb.SampleDB
	if cfg.Catalog != nil && cfg.Bootstrap.Enabled {
		catalog, err = sampledb.Open(logger, *cfg.Catalog)
		check(err)
		defer catalog.Close()
	}

	opts := orchestrator.Options{
		Threads:     cfg.Threads,
		StopTimeout: cfg.StopTimeout,
		NewDetector: func() (nn.Detector, error) {
			return slidingwin.NewDetector(model)
		},
		Loader:        &imageload.Loader{MaxWidth: cfg.MaxImageWidth},
		Console:       syncx.NewConsole(os.Stdout, os.Stderr),
		Bootstrap:     cfg.Bootstrap,
		GroundTruth:   groundtruth.NewLoader(cfg.GroundTruth.Dir, model.Classes, cfg.GroundTruth.Filters),
		GTScale:       cfg.GroundTruth.Scale,
		Catalog:       catalog,
		CatalogConfig: cfg.YAML(),
	}
	orch, err := orchestrator.New(logger, opts)
	check(err)

	detections := []frameDetections{}
	if *detectionsFile != "" {
		orch.OnResult = func(r *worker.Result) {
			d := frameDetections{
				Frame: r.Meta.Name,
				Boxes: r.Boxes,
			}
			if r.Err != nil {
				d.Error = r.Err.Error()
			}
			detections = append(detections, d)
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	summary, runErr := orch.Run(ctx, frames)
	if err := orch.Close(); err != nil {
		logger.Errorf("%v", err)
	}
	check(runErr)
	fmt.Printf("%v\n", summary)

	if *detectionsFile != "" {
		slices.SortFunc(detections, func(a, b frameDetections) int {
			return strings.Compare(a.Frame, b.Frame)
		})
		f, err := os.Create(*detectionsFile)
		check(err)
		encoder := json.NewEncoder(f)
		encoder.SetIndent("", "  ")
		check(encoder.Encode(detections))
		check(f.Close())
	}

	if cfg.Bootstrap.Enabled && cfg.Dataset.Dir != "" {
		check(os.MkdirAll(cfg.Dataset.Dir, 0755))
		check(orch.SaveDataset(cfg.Dataset.Dir, cfg.Dataset.Name))
	}
}

var imageExtensions = []string{".jpg", ".jpeg", ".png"}

// An input is a single image, a directory of images, or a text file listing images
func listImages(input string) ([]string, error) {
	st, err := os.Stat(input)
	if err != nil {
		return nil, err
	}
	if st.IsDir() {
		entries, err := os.ReadDir(input)
		if err != nil {
			return nil, err
		}
		paths := []string{}
		for _, e := range entries {
			if !e.IsDir() && slices.Contains(imageExtensions, strings.ToLower(filepath.Ext(e.Name()))) {
				paths = append(paths, filepath.Join(input, e.Name()))
			}
		}
		return paths, nil
	}
	if strings.ToLower(filepath.Ext(input)) != ".txt" {
		return []string{input}, nil
	}

	f, err := os.Open(input)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	paths := []string{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		paths = append(paths, line)
	}
	return paths, scanner.Err()
}
