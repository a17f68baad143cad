package report

import (
	"fmt"
	"image/color"
	"io"
	"math"
	"math/rand"
	"strings"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"

	"comtrust/latency/internal/config"
	"comtrust/latency/internal/measurement"
)

// palette holds the first colors of the seaborn "colorblind" palette.
var palette = []color.NRGBA{
	{R: 0x01, G: 0x73, B: 0xb2, A: 0xff},
	{R: 0xde, G: 0x8f, B: 0x05, A: 0xff},
	{R: 0x02, G: 0x9e, B: 0x73, A: 0xff},
	{R: 0xd5, G: 0x5e, B: 0x00, A: 0xff},
}

var logTicks = []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10}

const (
	kdePoints    = 128
	violinWidth  = 0.4
	violinOffset = 0.05
	rainOffset   = 0.12
	rainDodge    = 0.16
	jitterWidth  = 0.05
	jitterSeed   = 1
)

// FigureOptions control the rendering of the distribution figure.
type FigureOptions struct {
	LogScale bool
	Width    vg.Length
	Height   vg.Length
	Formats  []string
	DPI      int
}

// FigureOptionsFrom derives the figure options of an analysis configuration.
func FigureOptionsFrom(cfg config.Analysis) FigureOptions {
	return FigureOptions{
		LogScale: cfg.LogScale,
		Width:    vg.Length(cfg.FigureWidthInch) * vg.Inch,
		Height:   vg.Length(cfg.FigureHeightInch) * vg.Inch,
		Formats:  cfg.FigureFormats,
		DPI:      300,
	}
}

func withAlpha(c color.NRGBA, alpha uint8) color.NRGBA {
	c.A = alpha
	return c
}

// kde evaluates a Gaussian kernel density estimate with Scott's bandwidth on an
// evenly spaced grid that extends two bandwidths past the data.
func kde(values []float64, points int) (grid, density []float64) {
	if len(values) < 2 {
		return nil, nil
	}
	_, std := stat.MeanStdDev(values, nil)
	if std == 0 || math.IsNaN(std) {
		return nil, nil
	}
	bw := std * math.Pow(float64(len(values)), -1.0/5.0)

	lo, hi := values[0], values[0]
	for _, v := range values {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	lo -= 2 * bw
	hi += 2 * bw

	grid = make([]float64, points)
	density = make([]float64, points)
	norm := 1 / (float64(len(values)) * bw * math.Sqrt(2*math.Pi))
	for i := range grid {
		x := lo + (hi-lo)*float64(i)/float64(points-1)
		grid[i] = x
		sum := 0.0
		for _, v := range values {
			z := (x - v) / bw
			sum += math.Exp(-0.5 * z * z)
		}
		density[i] = sum * norm
	}
	return grid, density
}

// halfViolin builds the polygon of a density drawn leftwards from baseline.
// scale maps the density to x units.
func halfViolin(grid, density []float64, baseline, scale float64, logScale bool) plotter.XYs {
	toY := func(v float64) float64 {
		if logScale {
			return math.Pow(10, v)
		}
		return v
	}
	xys := make(plotter.XYs, 0, len(grid)+2)
	xys = append(xys, plotter.XY{X: baseline, Y: toY(grid[0])})
	for i := range grid {
		xys = append(xys, plotter.XY{X: baseline - density[i]*scale, Y: toY(grid[i])})
	}
	xys = append(xys, plotter.XY{X: baseline, Y: toY(grid[len(grid)-1])})
	return xys
}

// Figure draws, per device, one half violin, one jittered strip, and one box
// plot per operating system. groups is keyed by channel and OS codes.
func Figure(groups map[measurement.GroupKey][]float64, devices, systems []string, opts FigureOptions) (*plot.Plot, error) {
	if len(devices) == 0 || len(systems) == 0 {
		return nil, fmt.Errorf("[report] nothing to plot: %d devices, %d operating systems", len(devices), len(systems))
	}
	p := plot.New()
	p.X.Label.Text = "Device"
	p.Y.Label.Text = "Latency (ms)"

	grid := plotter.NewGrid()
	grid.Vertical.Color = nil
	p.Add(grid)

	rng := rand.New(rand.NewSource(jitterSeed))
	legendDone := make([]bool, len(systems))

	for x, device := range devices {
		type cloud struct {
			grid, density []float64
		}
		clouds := make([]cloud, len(systems))
		maxDensity := 0.0
		for k, osCode := range systems {
			values := positive(groups[measurement.GroupKey{Device: device, OS: osCode}], opts.LogScale)
			space := values
			if opts.LogScale {
				space = make([]float64, len(values))
				for i, v := range values {
					space[i] = math.Log10(v)
				}
			}
			g, d := kde(space, kdePoints)
			clouds[k] = cloud{grid: g, density: d}
			for _, v := range d {
				maxDensity = math.Max(maxDensity, v)
			}
		}

		for k, osCode := range systems {
			col := palette[k%len(palette)]
			values := positive(groups[measurement.GroupKey{Device: device, OS: osCode}], opts.LogScale)
			if len(values) == 0 {
				continue
			}

			if clouds[k].grid != nil && maxDensity > 0 {
				xys := halfViolin(clouds[k].grid, clouds[k].density, float64(x)-violinOffset, violinWidth/maxDensity, opts.LogScale)
				poly, err := plotter.NewPolygon(xys)
				if err != nil {
					return nil, err
				}
				poly.Color = withAlpha(col, 166)
				poly.LineStyle.Width = 0
				p.Add(poly)
			}

			center := float64(x) + rainOffset + float64(k)*rainDodge
			rain := make(plotter.XYs, len(values))
			for i, v := range values {
				rain[i] = plotter.XY{X: center + (rng.Float64()*2-1)*jitterWidth, Y: v}
			}
			strip, err := plotter.NewScatter(rain)
			if err != nil {
				return nil, err
			}
			strip.GlyphStyle.Color = withAlpha(col, 26)
			strip.GlyphStyle.Radius = vg.Points(0.5)
			strip.GlyphStyle.Shape = draw.CircleGlyph{}
			p.Add(strip)

			box, err := plotter.NewBoxPlot(vg.Points(8), center, plotter.Values(values))
			if err != nil {
				return nil, err
			}
			box.FillColor = withAlpha(col, 191)
			box.WhiskerStyle.Width = vg.Points(1.5)
			box.GlyphStyle.Radius = vg.Points(1)
			p.Add(box)

			if !legendDone[k] {
				p.Legend.Add(config.OSLabel(osCode), swatch{color: col})
				legendDone[k] = true
			}
		}
	}

	labels := make([]string, len(devices))
	for i, device := range devices {
		labels[i] = strings.ReplaceAll(config.DeviceLabel(device), " ", "\n")
	}
	p.NominalX(labels...)
	p.X.Min = -violinWidth - violinOffset - 0.1
	p.X.Max = float64(len(devices)-1) + rainOffset + float64(len(systems))*rainDodge

	p.Legend.Top = true
	p.Legend.Left = true

	if opts.LogScale {
		p.Y.Scale = plot.LogScale{}
		ticks := make([]plot.Tick, len(logTicks))
		for i, v := range logTicks {
			ticks[i] = plot.Tick{Value: v, Label: fmt.Sprintf("%2.2f ms", v)}
		}
		p.Y.Tick.Marker = plot.ConstantTicks(ticks)
		p.Y.Min = logTicks[0]
		p.Y.Max = math.Max(p.Y.Max, logTicks[0]*10)
		p.Y.Label.Text = "Latency (log10 scale)"
	} else {
		p.Y.Min = 0
	}
	return p, nil
}

// swatch is the legend thumbnail of one operating system.
type swatch struct {
	color color.Color
}

func (s swatch) Thumbnail(c *draw.Canvas) {
	c.FillPolygon(s.color, []vg.Point{
		{X: c.Min.X, Y: c.Min.Y},
		{X: c.Min.X, Y: c.Max.Y},
		{X: c.Max.X, Y: c.Max.Y},
		{X: c.Max.X, Y: c.Min.Y},
	})
}

// positive drops values a log axis cannot show.
func positive(values []float64, logScale bool) []float64 {
	if !logScale {
		return values
	}
	out := make([]float64, 0, len(values))
	for _, v := range values {
		if v > 0 {
			out = append(out, v)
		}
	}
	return out
}

// WriteFigure renders the figure once per configured format and returns the
// written paths.
func (r *Reporter) WriteFigure(p *plot.Plot, opts FigureOptions) ([]string, error) {
	var paths []string
	for _, format := range opts.Formats {
		name := FigureBaseName + "." + format
		err := r.write(name, func(w io.Writer) error {
			if format == "png" {
				canvas := vgimg.NewWith(vgimg.UseWH(opts.Width, opts.Height), vgimg.UseDPI(opts.DPI))
				p.Draw(draw.New(canvas))
				_, err := vgimg.PngCanvas{Canvas: canvas}.WriteTo(w)
				return err
			}
			wt, err := p.WriterTo(opts.Width, opts.Height, format)
			if err != nil {
				return err
			}
			_, err = wt.WriteTo(w)
			return err
		})
		if err != nil {
			return paths, err
		}
		paths = append(paths, r.Path(name))
	}
	r.logger.Debug("[report] rendered figure", zap.Strings("files", paths))
	return paths, nil
}
