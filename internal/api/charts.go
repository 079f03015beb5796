package api

import (
	"bytes"
	"fmt"
	"net/http"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/pumptrack.timer/internal/httputil"
)

// lapChart renders a line chart (HTML) of the completed lap times. This is a
// trackside debugging view, not part of the JSON API.
func (s *Server) lapChart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	times := s.timer.LapTimes()
	if len(times) == 0 {
		httputil.WriteJSONError(w, http.StatusNotFound, "no completed laps yet")
		return
	}

	x := make([]string, 0, len(times))
	y := make([]opts.LineData, 0, len(times))
	best := times[0]
	for i, lap := range times {
		x = append(x, fmt.Sprintf("Lap %d", i+1))
		y = append(y, opts.LineData{Value: lap})
		if lap < best {
			best = lap
		}
	}

	stats := s.timer.Statistics()
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Lap Times", Theme: "dark", Width: "900px", Height: "500px"}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Lap Times",
			Subtitle: fmt.Sprintf("laps=%d best=%.3fs rate=%.0f%%", len(times), best, stats.CompletionRate),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithYAxisOpts(opts.YAxis{Name: "seconds"}),
	)
	line.SetXAxis(x).
		AddSeries("lap time", y,
			charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}),
		)

	var buf bytes.Buffer
	if err := line.Render(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render chart: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}
