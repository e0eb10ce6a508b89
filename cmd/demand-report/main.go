package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"time"

	"vetclinic/internal/catalog"
	"vetclinic/internal/config"
	"vetclinic/internal/database"
	"vetclinic/internal/logging"
	"vetclinic/internal/models"
	"vetclinic/internal/stats"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	fromFlag := flag.String("from", "", "first day of the report, YYYY-MM-DD (default: 30 days ago)")
	toFlag := flag.String("to", "", "last day of the report, YYYY-MM-DD (default: today)")
	outDir := flag.String("out", "", "output directory (default: exports.path)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.Database.Driver == config.DriverMemory {
		return errors.New("demand report needs a persistent database driver")
	}

	logger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	if closer != nil {
		defer func() { _ = closer.Close() }()
	}

	loc, err := cfg.Scheduling.Location()
	if err != nil {
		return err
	}
	from, to, err := reportRange(*fromFlag, *toFlag, loc, time.Now())
	if err != nil {
		return err
	}

	db, err := database.Open(cfg.Database, logging.Component(logger, "database"))
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	bookings, err := db.GetBookingsByDateRange(ctx, from, to)
	if err != nil {
		return fmt.Errorf("failed to load bookings: %w", err)
	}
	report := stats.AggregateRange(bookings, from, to)

	dir := *outDir
	if dir == "" {
		dir = cfg.Exports.Path
	}
	path, err := stats.SaveXLSX(dir, report, catalog.New(cfg.Catalog).Label)
	if err != nil {
		return err
	}

	logger.Info().
		Str("path", path).
		Int("total", report.Total).
		Str("most_demanded", string(report.MostDemanded)).
		Msg("demand report written")
	return nil
}

// reportRange turns inclusive calendar dates into the half-open instant range [from, to).
func reportRange(fromRaw, toRaw string, loc *time.Location, now time.Time) (time.Time, time.Time, error) {
	today, _ := models.DayBounds(now, loc)

	to := today
	if toRaw != "" {
		parsed, err := time.ParseInLocation(models.DateLayout, toRaw, loc)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid -to: %w", err)
		}
		to = parsed
	}

	from := to.AddDate(0, 0, -30)
	if fromRaw != "" {
		parsed, err := time.ParseInLocation(models.DateLayout, fromRaw, loc)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid -from: %w", err)
		}
		from = parsed
	}

	end := to.AddDate(0, 0, 1)
	if !from.Before(end) {
		return time.Time{}, time.Time{}, errors.New("-from must not be after -to")
	}
	return from, end, nil
}
