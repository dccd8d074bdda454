package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"math/rand/v2"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	emojifaces "github.com/menta2k/emoji-faces"
	"github.com/menta2k/emoji-faces/internal/backend"
	"github.com/menta2k/emoji-faces/internal/config"
	"github.com/menta2k/emoji-faces/internal/utils"
	"github.com/menta2k/emoji-faces/pkg/catalog"
	"github.com/menta2k/emoji-faces/pkg/compositor"
	"github.com/menta2k/emoji-faces/pkg/detection"
	"github.com/menta2k/emoji-faces/pkg/processing"
	"github.com/menta2k/emoji-faces/pkg/types"
)

// sources collects repeated -emojis flags
type sources []string

func (s *sources) String() string {
	return strings.Join(*s, ",")
}

func (s *sources) Set(v string) error {
	*s = append(*s, v)
	return nil
}

// options holds the command line flags
type options struct {
	in, out, category, sel, ext, preview string
	cfgPath, saveConfig                  string
	detector, cascade, region, inferURL  string
	model, visionURL                     string
	quality, maxHeight                   int
	lossless, list, describe, verbose    bool
	seed                                 uint64
	emojis                               sources
}

func main() {
	opts := parseFlags()
	if err := run(opts); err != nil {
		log.Fatal(err)
	}
}

func parseFlags() *options {
	def := config.Default()
	o := &options{}

	flag.StringVar(&o.in, "in", "", "input image path or URL (jpg/png/webp)")
	flag.Var(&o.emojis, "emojis", "emoji folder or .zip with one subfolder per category (repeatable)")
	flag.StringVar(&o.category, "category", def.Catalog.DefaultCategory, "emoji category to use")
	flag.StringVar(&o.sel, "select", "all", `faces to decorate: "all" or indices like "0,2"`)
	flag.StringVar(&o.out, "out", "", "output file (default: <output dir>/<input><suffix>.<ext>)")
	flag.StringVar(&o.ext, "ext", def.Output.DefaultFormat, "output format: png|jpg|webp")
	flag.IntVar(&o.quality, "quality", def.Output.Quality, "JPEG/WebP output quality (1-100)")
	flag.BoolVar(&o.lossless, "lossless", def.Output.Lossless, "WebP output lossless mode")
	flag.IntVar(&o.maxHeight, "maxheight", def.Image.MaxHeight, "downscale taller inputs to this height before detection, 0=original")

	flag.StringVar(&o.detector, "detector", def.Detector.Backend, "face detector: "+strings.Join(backend.Names, "|"))
	flag.StringVar(&o.cascade, "cascade", def.Detector.Pigo.CascadeFile, "pigo cascade file")
	flag.StringVar(&o.region, "region", def.Detector.Rekognition.Region, "AWS region for rekognition")
	flag.StringVar(&o.inferURL, "inference-url", def.Detector.Inference.URL, "detection service endpoint")
	flag.StringVar(&o.model, "model", def.Detector.Vision.Model, "vision model name")
	flag.StringVar(&o.visionURL, "url", def.Detector.Vision.URL, "vision server URL (ollama or llama.cpp)")
	flag.BoolVar(&o.describe, "describe", false, "ask the vision model to describe -in and exit, to check it receives images")

	flag.StringVar(&o.preview, "preview", "", "also write the input with face IDs drawn to this file (png/jpg/webp)")
	flag.BoolVar(&o.list, "list", false, "list emoji categories and exit")
	flag.Uint64Var(&o.seed, "seed", 0, "shuffle seed for reproducible output, 0=random")
	flag.StringVar(&o.cfgPath, "config", "", "JSON config file (default: "+config.GetConfigPath()+" when present)")
	flag.StringVar(&o.saveConfig, "save-config", "", "write the effective configuration to this file and exit")
	flag.BoolVar(&o.verbose, "v", false, "debug logging")
	flag.Parse()

	return o
}

// configPath returns the -config value, or the per-user config file when
// that exists
func configPath(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if p := config.GetConfigPath(); utils.FileExists(p) {
		return p
	}
	return ""
}

// previewFormat returns the encoding for a preview file from its extension
func previewFormat(path string) (string, error) {
	if !utils.IsImageFile(path) {
		return "", fmt.Errorf("preview %s: use a .png, .jpg or .webp file name", path)
	}
	return processing.NormalizeFormat(utils.GetFileExtension(path))
}

func loadConfig(o *options) (*config.Config, error) {
	cfg, err := config.Load(configPath(o.cfgPath))
	if err != nil {
		return nil, err
	}

	// Flags given on the command line win over the config file
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "emojis":
			cfg.Catalog.Sources = o.emojis
		case "category":
			cfg.Catalog.DefaultCategory = o.category
		case "ext":
			cfg.Output.DefaultFormat = o.ext
		case "quality":
			cfg.Output.Quality = o.quality
		case "lossless":
			cfg.Output.Lossless = o.lossless
		case "maxheight":
			cfg.Image.MaxHeight = o.maxHeight
		case "detector":
			cfg.Detector.Backend = o.detector
		case "cascade":
			cfg.Detector.Pigo.CascadeFile = o.cascade
		case "region":
			cfg.Detector.Rekognition.Region = o.region
		case "inference-url":
			cfg.Detector.Inference.URL = o.inferURL
		case "model":
			cfg.Detector.Vision.Model = o.model
		case "url":
			cfg.Detector.Vision.URL = o.visionURL
		}
	})
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func run(o *options) error {
	cfg, err := loadConfig(o)
	if err != nil {
		return err
	}

	if o.saveConfig != "" {
		if err := cfg.SaveToFile(o.saveConfig); err != nil {
			return err
		}
		log.Printf("wrote %s", o.saveConfig)
		return nil
	}

	logger := slog.New(slog.DiscardHandler)
	if o.verbose {
		logger = config.NewLogger("development", os.Stderr)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if o.describe {
		return describe(ctx, cfg, o.in, logger)
	}

	cat, err := catalog.Load(cfg.Catalog.Sources...)
	if err != nil {
		return err
	}

	if o.list {
		for _, info := range cat.Info() {
			fmt.Printf("%s\t%d\n", info.Name, info.Count)
		}
		return nil
	}

	if o.in == "" {
		return fmt.Errorf("usage: %s -in input.jpg|URL -emojis ./emojis -category animals [-select all|0,2] [-out out.png] [-ext png|jpg|webp] [-detector %s]",
			filepath.Base(os.Args[0]), strings.Join(backend.Names, "|"))
	}

	format, err := processing.NormalizeFormat(cfg.Output.DefaultFormat)
	if err != nil {
		return err
	}

	var prevFormat string
	if o.preview != "" {
		if prevFormat, err = previewFormat(o.preview); err != nil {
			return err
		}
	}

	category := cfg.Catalog.DefaultCategory
	if category == "" {
		names := cat.Categories()
		if len(names) != 1 {
			return fmt.Errorf("choose a category with -category (available: %s)", strings.Join(names, ", "))
		}
		category = names[0]
	}

	det, err := backend.NewDetector(ctx, cfg.Detector, logger)
	if err != nil {
		return err
	}

	compOpts := []compositor.Option{compositor.WithLogger(logger)}
	if o.seed != 0 {
		compOpts = append(compOpts, compositor.WithRand(rand.New(rand.NewPCG(o.seed, o.seed))))
	}

	studio := emojifaces.New(det, cat,
		emojifaces.WithMaxHeight(cfg.Image.MaxHeight),
		emojifaces.WithPreviewWidth(cfg.Image.PreviewWidth),
		emojifaces.WithCompositor(compositor.New(compOpts...)),
		emojifaces.WithLogger(logger),
	)

	sess, detected, err := studio.OpenSource(ctx, o.in)
	if err != nil {
		return err
	}
	log.Printf("detected %d face(s)", len(detected.Boxes))
	for i, b := range detected.Boxes {
		log.Printf("  ID %d: %s", i, b)
	}

	if o.preview != "" {
		annotated, err := studio.Annotate(sess)
		if err != nil {
			return err
		}
		if err := studio.Save(annotated, o.preview, types.OutputOptions{Format: prevFormat, Quality: cfg.Output.Quality}); err != nil {
			log.Printf("preview save failed: %v", err)
		} else {
			log.Printf("wrote %s", o.preview)
		}
	}

	if detected.NoFaces() {
		return errors.New("no faces detected")
	}

	selection, err := types.ParseSelection(o.sel, len(detected.Boxes))
	if err != nil {
		return err
	}

	result, err := studio.CompositeSelection(sess, detected.ID, category, selection)
	if err != nil {
		return err
	}

	out := o.out
	if out == "" {
		out = utils.GenerateOutputFilename(o.in, cfg.Output.OutputDir, cfg.Output.Prefix, cfg.Output.Suffix, format)
	}
	opts := types.OutputOptions{Format: format, Quality: cfg.Output.Quality, Lossless: cfg.Output.Lossless}
	if err := studio.Save(result, out, opts); err != nil {
		return err
	}
	log.Printf("wrote %s", out)
	return nil
}

// describe prints what the vision model sees in the input image
func describe(ctx context.Context, cfg *config.Config, in string, logger *slog.Logger) error {
	if in == "" {
		return errors.New("-describe needs -in")
	}

	det, err := backend.NewDetector(ctx, cfg.Detector, logger)
	if err != nil {
		return err
	}
	vision, ok := det.(*detection.VisionDetector)
	if !ok {
		return fmt.Errorf("-describe needs a vision detector, not %s", cfg.Detector.Backend)
	}

	img, err := processing.NewProcessor().LoadImageSmart(in)
	if err != nil {
		return err
	}
	text, err := vision.Describe(ctx, img)
	if err != nil {
		return err
	}
	fmt.Println(text)
	return nil
}
