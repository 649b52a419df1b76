// dffexport converts glTF/GLB scenes into RenderWare DFF model files.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/rwkit/dffexport/internal/collision"
	"github.com/rwkit/dffexport/internal/config"
	"github.com/rwkit/dffexport/internal/exporter"
	"github.com/rwkit/dffexport/internal/gltfscene"
	"github.com/rwkit/dffexport/internal/logger"
	"github.com/rwkit/dffexport/pkg/dff"
	"github.com/rwkit/dffexport/pkg/scene"
)

func main() {
	var (
		out      = flag.String("out", "", "output .dff path (single-file mode, default <input>.dff)")
		dir      = flag.String("dir", "", "output directory (batch mode)")
		batch    = flag.Bool("batch", false, "write one .dff per top-level scene")
		version  = flag.String("version", "", "target format version (3.3.0.2, 3.4.0.3 or 3.6.0.3)")
		selected = flag.String("selected", "", "comma-separated node names; export only these")
		colDir   = flag.String("col", "", "directory holding <unit>.col collision sidecars")
		cfgPath  = flag.String("config", "", "config file path (default ./dffexport.yaml)")
		logLevel = flag.String("log-level", "", "log level override (debug, info, warn, error)")
		dump     = flag.Bool("dump", false, "dump the assembled model to stderr before writing")
	)
	flag.Usage = printUsage
	flag.Parse()

	if flag.NArg() != 1 {
		printUsage()
		os.Exit(1)
	}
	input := flag.Arg(0)

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config error: %v\n", err)
		os.Exit(1)
	}
	applyFlags(cfg, *batch, *version, *dir)

	level := cfg.Logging.Level
	if *logLevel != "" {
		level = *logLevel
	}
	if err := logger.Init(level, cfg.Logging.LogFile); err != nil {
		fmt.Fprintf(os.Stderr, "Logger error: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ver, err := dff.ParseVersion(cfg.Export.Version)
	if err != nil {
		logger.Log.Error("bad target version",
			zap.String("version", cfg.Export.Version), zap.Error(err))
		os.Exit(1)
	}

	graph, err := gltfscene.Load(input, logger.Log)
	if err != nil {
		logger.Log.Error("failed to load scene", zap.String("input", input), zap.Error(err))
		os.Exit(1)
	}

	opts := exporter.Options{
		BatchMode:       cfg.Export.BatchMode,
		SelectedOnly:    cfg.Export.SelectedOnly,
		Version:         ver,
		ExportCollision: cfg.Export.Collision,
	}
	if *dump {
		opts.Dump = os.Stderr
	}
	if *selected != "" {
		markSelected(graph, strings.Split(*selected, ","))
		opts.SelectedOnly = true
	}

	var col collision.Exporter = collision.Nop{}
	colPath := cfg.Export.CollisionDir
	if *colDir != "" {
		colPath = *colDir
	}
	if colPath != "" {
		col = collision.FileProvider{Dir: colPath}
		opts.ExportCollision = true
	}

	outPath := *out
	if outPath == "" {
		outPath = scene.ClearExtension(input) + ".dff"
	}

	res, err := exporter.ExportScene(graph, opts, col, logger.Log, outPath, cfg.Export.OutputDir)
	if err != nil {
		logger.Log.Error("export failed", zap.Error(err))
		os.Exit(1)
	}

	for _, p := range res.Written {
		fmt.Printf("wrote %s\n", p)
	}
	for _, u := range res.Skipped {
		fmt.Printf("skipped %s (nothing to export)\n", u)
	}
	if len(res.Written) == 0 {
		os.Exit(1)
	}
}

// applyFlags folds CLI overrides into the loaded config.
func applyFlags(cfg *config.Config, batch bool, version, dir string) {
	if batch {
		cfg.Export.BatchMode = true
	}
	if version != "" {
		cfg.Export.Version = version
	}
	if dir != "" {
		cfg.Export.OutputDir = dir
		cfg.Export.BatchMode = true
	}
}

func markSelected(graph *scene.Graph, names []string) {
	for _, name := range names {
		if n := graph.Node(strings.TrimSpace(name)); n != nil {
			n.Settings.Selected = true
		}
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `dffexport - glTF to RenderWare DFF model exporter

Usage:
  dffexport [options] <scene.gltf|scene.glb>

Options:
  -out <file.dff>   Output path (default: input name with .dff)
  -dir <dir>        Batch output directory; implies -batch
  -batch            One .dff per top-level glTF scene
  -version <v>      Target version: 3.3.0.2, 3.4.0.3 or 3.6.0.3
  -selected <a,b>   Export only the named nodes
  -col <dir>        Attach <unit>.col collision sidecars from a directory
  -config <file>    Config file (default ./dffexport.yaml)
  -log-level <lvl>  Override configured log level
  -dump             Dump assembled model to stderr before writing

Examples:
  dffexport player.glb
  dffexport -version 3.4.0.3 -out models/player.dff player.glb
  dffexport -batch -dir out/ -col col/ city.gltf`)
}
