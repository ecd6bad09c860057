// Command crtwo2fits converts Canon CR2 raw files into FITS images.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math/big"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/crtwo2fits/crtwo2fits/config"
	"github.com/crtwo2fits/crtwo2fits/cr2"
	"github.com/crtwo2fits/crtwo2fits/fits"
)

// countFlag counts repeated occurrences of a boolean flag (-v -v).
type countFlag int

func (c *countFlag) String() string   { return fmt.Sprint(int(*c)) }
func (c *countFlag) IsBoolFlag() bool { return true }
func (c *countFlag) Set(string) error {
	*c++
	return nil
}

type options struct {
	compressed bool
	exportExif bool
	fullFrame  bool
	native     bool
	logFile    string
	configFile string
	jobs       int
	timeout    time.Duration
	verbosity  countFlag
}

func main() {
	var opts options
	flag.BoolVar(&opts.compressed, "c", false, "save to a compressed FITS file")
	flag.BoolVar(&opts.exportExif, "e", false, "export EXIF data to a file named FILE.exif")
	flag.BoolVar(&opts.fullFrame, "f", false, "keep the full sensor frame including masked borders")
	flag.BoolVar(&opts.native, "n", false, "use the built-in decoder instead of the external one")
	flag.StringVar(&opts.logFile, "l", "", "also write the log to this file")
	flag.StringVar(&opts.configFile, "config", "", "read configuration from this file only")
	flag.IntVar(&opts.jobs, "j", runtime.NumCPU(), "number of files to convert in parallel")
	flag.DurationVar(&opts.timeout, "timeout", cr2.DefaultTimeout, "time budget for one external decoder run")
	flag.Var(&opts.verbosity, "v", "increase the output verbosity level")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(),
			"usage: %s [options] FILE [FILE...]\n\nConverts CR2 raw files to FITS images.\n\n",
			os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	files := flag.Args()
	if len(files) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	log := logrus.New()
	switch {
	case opts.verbosity >= 2:
		log.SetLevel(logrus.DebugLevel)
	case opts.verbosity == 1:
		log.SetLevel(logrus.InfoLevel)
	default:
		log.SetLevel(logrus.WarnLevel)
	}
	if opts.logFile != "" {
		f, err := os.OpenFile(opts.logFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
		if err != nil {
			log.WithError(err).Fatal("cannot open log file")
		}
		defer f.Close()
		log.SetOutput(io.MultiWriter(os.Stderr, f))
	}

	var cfg *config.Config
	if opts.configFile != "" {
		cfg = config.Load(log, opts.configFile)
	} else {
		cfg = config.Load(log)
	}
	external := &cr2.ExternalDecoder{
		Exec:    cfg.Exec,
		Command: cfg.Command,
		Timeout: opts.timeout,
		Log:     log,
	}

	ctx := context.Background()
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.jobs)

	var mu sync.Mutex
	var errs *multierror.Error

	for i, file := range files {
		i, file := i, file
		g.Go(func() error {
			log.WithField("file", file).
				Infof("decoding file %d/%d", i+1, len(files))
			if err := convert(ctx, log, external, file, opts); err != nil {
				log.WithField("file", file).WithError(err).Error("conversion failed")
				mu.Lock()
				errs = multierror.Append(errs, err)
				mu.Unlock()
			}
			// A failed file never cancels the others.
			return nil
		})
	}
	g.Wait()

	if err := errs.ErrorOrNil(); err != nil {
		log.Errorf("%d of %d files failed", errs.Len(), len(files))
		os.Exit(1)
	}
}

// convert runs the full pipeline for one input file: decode, FITS
// write, optional EXIF sidecar.
func convert(ctx context.Context, log logrus.FieldLogger, external *cr2.ExternalDecoder, file string, opts options) error {
	img, err := cr2.Open(file, &cr2.Config{External: external, Logger: log})
	if err != nil {
		return err
	}
	defer img.Close()

	raw, err := img.Load(ctx, cr2.LoadOptions{
		FullFrame: opts.fullFrame,
		Native:    opts.native,
	})
	if err != nil {
		return err
	}

	base := strings.TrimSuffix(file, ".CR2")
	base = strings.TrimSuffix(base, ".cr2")

	if opts.exportExif {
		if err := writeExif(log, img, base+".exif"); err != nil {
			return err
		}
	}

	fitsName := base + ".fits"
	log.WithField("file", fitsName).Debug("saving FITS image")
	return fits.Write(fitsName, &fits.Image{
		Width:  raw.Width,
		Height: raw.Height,
		Pix:    raw.Pix,
	}, headerCards(log, img), opts.compressed)
}

// headerCards derives the observation cards from the image metadata.
// Missing or malformed metadata only costs the card, never the file.
func headerCards(log logrus.FieldLogger, img *cr2.CR2Image) []fits.Card {
	var cards []fits.Card

	if ts, err := img.Timestamp(); err == nil {
		cards = append(cards, fits.Card{
			Keyword: "DATE-OBS",
			Value:   cr2.ISO8601(ts),
			Comment: "observation time",
		})
	} else {
		log.WithError(err).Warn("no usable timestamp")
	}

	if model, ok := img.Exif().String(cr2.KeyModel); ok {
		cards = append(cards, fits.Card{
			Keyword: "INSTRUME",
			Value:   strings.TrimSpace(model),
			Comment: "camera model",
		})
	}
	if exp, ok := img.Exif().Get(cr2.KeyExposureTime).(*big.Rat); ok {
		f, _ := exp.Float64()
		cards = append(cards, fits.Card{
			Keyword: "EXPTIME",
			Value:   f,
			Comment: "exposure time in seconds",
		})
	}
	return cards
}

// writeExif serializes the metadata maps to a JSON sidecar, keyed by
// tag name with MakerNote entries prefixed by their namespace.
func writeExif(log logrus.FieldLogger, img *cr2.CR2Image, name string) error {
	props := make(map[string]interface{})
	for _, k := range img.Exif().Keys() {
		props[k.String()] = sidecarValue(img.Exif().Get(k))
	}
	if ts, err := img.Timestamp(); err == nil {
		props["UTCEPOCH"] = ts.Unix()
	}

	data, err := json.MarshalIndent(props, "", "  ")
	if err != nil {
		return err
	}
	log.WithField("file", name).Debug("saving EXIF sidecar")
	return os.WriteFile(name, append(data, '\n'), 0o644)
}

// sidecarValue rewrites values that do not serialize usefully as-is.
func sidecarValue(v interface{}) interface{} {
	switch t := v.(type) {
	case *big.Rat:
		return t.RatString()
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = sidecarValue(e)
		}
		return out
	default:
		return v
	}
}
