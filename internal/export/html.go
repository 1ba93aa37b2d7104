package export

import (
	"fmt"
	"io"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
)

// WriteWeightSpectrumHTML renders the summed weight per channel and
// polarization, and the number of unflagged cells per channel, as an HTML
// page on w. assetsHost overrides the echarts script location when non-empty.
func WriteWeightSpectrumHTML(w io.Writer, c *Cube, title, assetsHost string) error {
	freqs := make([]string, c.NChan)
	for ch := range freqs {
		freqs[ch] = fmt.Sprintf("%.4f", c.CSys.Spectral.ToWorld(float64(ch))/1e9)
	}
	initOpts := opts.Initialization{PageTitle: title, Width: "100%", Height: "480px"}
	if assetsHost != "" {
		initOpts.AssetsHost = assetsHost
	}

	weights := c.ChannelWeight()
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(initOpts),
		charts.WithTitleOpts(opts.Title{Title: "Weight spectrum", Subtitle: title}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "GHz", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "Σ weight"}),
	)
	line.SetXAxis(freqs)
	for p, s := range c.CSys.Stokes {
		data := make([]opts.LineData, c.NChan)
		for ch := range data {
			data[ch] = opts.LineData{Value: weights[ch][p]}
		}
		line.AddSeries(s.String(), data)
	}

	plane := c.NX * c.NY
	filled := make([]opts.BarData, c.NChan)
	for ch := range filled {
		n := 0
		for p := 0; p < c.NPol; p++ {
			start := c.Index(0, 0, ch, p)
			for _, f := range c.Flag[start : start+plane] {
				if !f {
					n++
				}
			}
		}
		filled[ch] = opts.BarData{Value: n}
	}
	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(initOpts),
		charts.WithTitleOpts(opts.Title{Title: "Unflagged cells per channel"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	bar.SetXAxis(freqs).AddSeries("cells", filled)

	page := components.NewPage()
	if assetsHost != "" {
		page.SetAssetsHost(assetsHost)
	}
	page.AddCharts(line, bar)
	return page.Render(w)
}
