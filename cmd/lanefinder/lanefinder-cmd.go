package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pterm/pterm"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gopkg.in/yaml.v3"

	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/rimage"

	"lanefinder"
)

func main() {
	configFile := flag.String("config", "", "YAML pipeline configuration (defaults built in)")
	plotFile := flag.String("plot", "", "write a rectified-space plot of detections and fits to this PNG")
	rectifiedFile := flag.String("rectified", "", "write the rectified mask with scan windows to this image")
	debug := flag.Bool("debug", false, "debug logging")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [flags] <input.jpg> [output.jpg]\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  If output is not specified, it will be <input>_lanes.jpg\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(1)
	}

	if err := realMain(*configFile, *plotFile, *rectifiedFile, *debug, flag.Args()); err != nil {
		pterm.Error.Println(err)
		os.Exit(1)
	}
}

func realMain(configFile, plotFile, rectifiedFile string, debug bool, args []string) error {
	logger := logging.NewLogger("lanefinder")
	if debug {
		logger = logging.NewDebugLogger("lanefinder")
	}

	inputFile := args[0]

	// Determine output file name
	var outputFile string
	if len(args) >= 2 {
		outputFile = args[1]
	} else {
		ext := filepath.Ext(inputFile)
		base := strings.TrimSuffix(inputFile, ext)
		outputFile = base + "_lanes" + ext
	}

	cfg, err := loadConfig(configFile)
	if err != nil {
		return err
	}

	pipeline, err := lanefinder.NewPipeline(cfg, logger)
	if err != nil {
		return fmt.Errorf("bad configuration: %w", err)
	}

	input, err := rimage.ReadImageFromFile(inputFile)
	if err != nil {
		return fmt.Errorf("reading image: %w", err)
	}
	pterm.Info.Printf("Image size: %dx%d\n", input.Bounds().Dx(), input.Bounds().Dy())

	res, err := pipeline.Process(context.Background(), input)
	if err != nil {
		return err
	}

	printLanes(res)

	if err := rimage.WriteImageToFile(outputFile, lanefinder.DrawOverlay(input, res)); err != nil {
		return fmt.Errorf("writing output image: %w", err)
	}
	pterm.Success.Printf("Saved output image to %s\n", outputFile)

	if rectifiedFile != "" {
		if err := rimage.WriteImageToFile(rectifiedFile, lanefinder.DrawDetections(res)); err != nil {
			return fmt.Errorf("writing rectified image: %w", err)
		}
		pterm.Success.Printf("Saved rectified image to %s\n", rectifiedFile)
	}

	if plotFile != "" {
		if err := plotLanes(res, plotFile); err != nil {
			return fmt.Errorf("writing plot: %w", err)
		}
		pterm.Success.Printf("Saved plot to %s\n", plotFile)
	}

	return nil
}

func loadConfig(path string) (lanefinder.PipelineConfig, error) {
	cfg := lanefinder.DefaultPipelineConfig()
	if path == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing %s: %w", path, err)
	}
	return cfg, nil
}

func printLanes(res lanefinder.FrameResult) {
	data := pterm.TableData{{"Lane", "Points", "Filter", "Degree", "Status"}}
	for _, lane := range res.Lanes {
		status := "ok"
		degree := "-"
		if lane.Err != nil {
			status = lane.Err.Error()
		} else {
			degree = fmt.Sprintf("%d", lane.Curve.Poly.Degree())
		}
		data = append(data, []string{
			lane.Label,
			fmt.Sprintf("%d/%d", len(lane.Detection.Points), len(lane.Detection.Raw)),
			lane.Detection.Outcome.String(),
			degree,
			status,
		})
	}
	pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}

// plotLanes draws detections and fitted curves in rectified space. The y axis
// is flipped so the plot reads like the image.
func plotLanes(res lanefinder.FrameResult, file string) error {
	p := plot.New()
	p.Title.Text = "rectified lanes"
	p.X.Label.Text = "x (px)"
	p.Y.Label.Text = "-y (px)"

	for _, lane := range res.Lanes {
		if len(lane.Detection.Points) > 0 {
			pts := make(plotter.XYs, len(lane.Detection.Points))
			for i, d := range lane.Detection.Points {
				pts[i] = plotter.XY{X: d.X, Y: -d.Y}
			}
			sc, err := plotter.NewScatter(pts)
			if err != nil {
				return err
			}
			p.Add(sc)
			p.Legend.Add(lane.Label+" detections", sc)
		}

		curves := [][]lanefinder.RectifiedPoint{lane.Curve.Points}
		if lane.Offset != nil {
			curves = append(curves, lane.Offset.Rectified)
		}
		for _, c := range curves {
			if len(c) < 2 {
				continue
			}
			pts := make(plotter.XYs, len(c))
			for i, q := range c {
				pts[i] = plotter.XY{X: q.X, Y: -q.Y}
			}
			line, err := plotter.NewLine(pts)
			if err != nil {
				return err
			}
			line.Width = vg.Points(1)
			p.Add(line)
		}
	}

	return p.Save(8*vg.Inch, 6*vg.Inch, file)
}
