package pipeline

import (
	"context"
	"fmt"
	"sort"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/brustt/logistics-sprawl/internal/config"
	"github.com/brustt/logistics-sprawl/internal/stats"
)

// Epochs returns every pair of distinct years, earlier first.
func Epochs(years []int) [][2]int {
	ys := append([]int(nil), years...)
	sort.Ints(ys)
	var out [][2]int
	for i := 0; i < len(ys); i++ {
		for j := i + 1; j < len(ys); j++ {
			if ys[i] == ys[j] {
				continue
			}
			out = append(out, [2]int{ys[i], ys[j]})
		}
	}
	return out
}

// YearDate is the run date of a year.
func YearDate(y int) string { return fmt.Sprintf("%04d-01-01", y) }

// Analyze runs both dates for every configured radius and returns one
// statistics row per radius.
func Analyze(ctx context.Context, cfg *config.Config, deps Deps, region config.Region, dateStart, dateEnd string) ([]stats.Row, error) {
	r0, err := New(cfg, deps, region, dateStart)
	if err != nil {
		return nil, err
	}
	r1, err := New(cfg, deps, region, dateEnd)
	if err != nil {
		return nil, err
	}
	if r0.Year() >= r1.Year() {
		return nil, eris.Errorf("pipeline: start %s is not before end %s", dateStart, dateEnd)
	}

	rows := make([]stats.Row, 0, len(cfg.Pipeline.Radii))
	for _, radius := range cfg.Pipeline.Radii {
		e0, err := epoch(ctx, r0, radius)
		if err != nil {
			return nil, err
		}
		e1, err := epoch(ctx, r1, radius)
		if err != nil {
			return nil, err
		}
		rows = append(rows, stats.Compute(region.Name, radius, e0, e1))
	}
	return rows, nil
}

func epoch(ctx context.Context, r *Runner, radius int) (stats.Epoch, error) {
	ws, err := r.Run(ctx, radius)
	if err != nil {
		return stats.Epoch{}, err
	}
	cs, err := r.Communes(ctx, radius)
	if err != nil {
		return stats.Epoch{}, err
	}
	return stats.Epoch{Year: r.Year(), Warehouses: ws, Communes: cs}, nil
}

// Report analyzes every epoch pair of the configured years and writes the
// CSV and XLSX reports. It returns the written paths.
func Report(ctx context.Context, cfg *config.Config, deps Deps, region config.Region) ([]string, error) {
	log := zap.L().With(zap.String("component", "pipeline"), zap.String("area", region.Slug()))
	var paths []string
	for _, pair := range Epochs(cfg.Pipeline.Years) {
		rows, err := Analyze(ctx, cfg, deps, region, YearDate(pair[0]), YearDate(pair[1]))
		if err != nil {
			return paths, err
		}
		csvPath, xlsxPath, err := stats.WriteReport(cfg.Paths.ReportsDir, region.Slug(), pair[0], pair[1], rows)
		if err != nil {
			return paths, err
		}
		log.Info("pipeline: report written",
			zap.String("csv", csvPath),
			zap.String("xlsx", xlsxPath),
			zap.Int("rows", len(rows)),
		)
		paths = append(paths, csvPath, xlsxPath)
	}
	return paths, nil
}
