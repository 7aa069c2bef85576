package main

import (
	"database/sql"
	"encoding/csv"
	"flag"
	"fmt"
	"os"

	"github.com/chrissnell/reservoirflow/internal/bundle"
	"github.com/chrissnell/reservoirflow/internal/detect"
	"github.com/chrissnell/reservoirflow/internal/stagestorage"
	"github.com/chrissnell/reservoirflow/internal/storagechange"
	"github.com/chrissnell/reservoirflow/internal/types"
	_ "github.com/lib/pq"
	"gonum.org/v1/gonum/stat"
)

func main() {
	// Command line flags
	var (
		bundlePath = flag.String("bundle", "network.msgpack", "Input bundle file")
		regionID   = flag.Int("region", 0, "Detected region to calibrate")
		threshold  = flag.Float64("threshold", 300, "Minimum water pixels per coarse block")
		block      = flag.Int("block", detect.DefaultBlockSize, "Coarse block edge length in cells")
		pixelSize  = flag.Float64("pixel-size", 30, "Observation pixel edge length in metres")
		csvOutput  = flag.String("csv", "", "Optional CSV output file path")
		dbHost     = flag.String("db-host", "", "Read observations from this PostgreSQL host instead of the bundle")
		dbPort     = flag.Int("db-port", 5432, "Database port")
		dbUser     = flag.String("db-user", "postgres", "Database user")
		dbPass     = flag.String("db-pass", "", "Database password")
		dbName     = flag.String("db-name", "reservoirflow", "Database name")
	)
	flag.Parse()

	b, err := bundle.Load(*bundlePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading bundle: %v\n", err)
		os.Exit(1)
	}

	regions, err := detect.NewDetector(detect.Params{Threshold: *threshold, BlockSize: *block}, nil).Detect(b.Occurrence, b.Basin)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error detecting regions: %v\n", err)
		os.Exit(1)
	}
	if *regionID < 0 || *regionID >= len(regions) {
		fmt.Fprintf(os.Stderr, "Error: region %d not found (%d regions detected)\n", *regionID, len(regions))
		os.Exit(1)
	}
	region := regions[*regionID]

	fmt.Printf("Stage-Storage Calibration\n")
	fmt.Printf("=========================\n\n")
	fmt.Printf("Configuration:\n")
	fmt.Printf("  Bundle: %s\n", *bundlePath)
	fmt.Printf("  Region: %s\n", region)
	fmt.Printf("  Detection: threshold %.0f, block %d (%d regions)\n\n", *threshold, *block, len(regions))

	res, err := stagestorage.NewFitter(nil).Fit(region, b.Occurrence, b.DEM)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error fitting region %d: %v\n", region.ID, err)
		os.Exit(1)
	}

	displayTable(res)
	displayFit(res)

	var obs types.ObservationSeries
	if *dbHost != "" {
		connStr := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
			*dbHost, *dbPort, *dbUser, *dbPass, *dbName)
		obs, err = fetchObservations(connStr, region.ID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading observations: %v\n", err)
			os.Exit(1)
		}
	} else {
		obs = b.Observations[region.ID]
	}
	displayChanges(obs, res.Model, *pixelSize)

	// Optionally export to CSV
	if *csvOutput != "" {
		if err := exportCSV(*csvOutput, res); err != nil {
			fmt.Fprintf(os.Stderr, "Error writing CSV: %v\n", err)
		} else {
			fmt.Printf("\nTable exported to: %s\n", *csvOutput)
		}
	}
}

func fetchObservations(connStr string, regionID int) (types.ObservationSeries, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return nil, err
	}

	rows, err := db.Query(`
		SELECT year, month, pixels
		FROM observations
		WHERE region_id = $1
		ORDER BY year, month
	`, regionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var obs types.ObservationSeries
	for rows.Next() {
		var o types.Observation
		if err := rows.Scan(&o.Year, &o.Month, &o.Pixels); err != nil {
			return nil, err
		}
		obs = append(obs, o)
	}
	return obs, rows.Err()
}

func displayTable(res stagestorage.FitResult) {
	fmt.Printf("Elevation Table\n")
	fmt.Printf("===============\n\n")
	fmt.Printf("%4s | %8s | %8s | %12s | %14s | %6s\n", "Row", "Height", "Pixels", "Area(m²)", "Volume(m³)", "Incr")
	fmt.Printf("-----+----------+----------+--------------+----------------+-------\n")

	tr := res.Truncation
	for i, s := range res.Table {
		mark := ""
		switch {
		case res.Degenerate:
		case i < tr.Mini:
			mark = "  submerged"
		case i >= tr.End:
			mark = "  withheld"
		}
		fmt.Printf("%4d | %8.2f | %8d | %12.1f | %14.1f | %6d%s\n",
			i, s.Height, s.PixelCount, s.Area, s.Volume, s.IncrementalCount, mark)
	}
	fmt.Printf("\nSubmerged cutoff row: %d\n", tr.Mini)
	fmt.Printf("Fitted rows: %d..%d (widest converging fit ended at %d)\n\n", tr.Mini, tr.End, tr.Maxi)
}

func displayFit(res stagestorage.FitResult) {
	fmt.Printf("Fitted Model\n")
	fmt.Printf("============\n\n")
	fmt.Printf("  %s\n", res.Model)
	fmt.Printf("  R² = %.4f\n", res.Quality.RSquared)
	fmt.Printf("  RMSE = %.2f m³\n", res.Quality.RMSE)
	fmt.Printf("  Points = %d, attempts = %d\n", res.Quality.Points, res.Attempts)

	if res.Degenerate {
		fmt.Printf("\n  ⚠ WARNING: no bounded fit converged; using an origin-anchored fit\n")
	} else if res.Quality.RSquared < 0.9 {
		fmt.Printf("\n  ℹ Moderate fit (R²=%.4f) - check the DEM under the water mask\n", res.Quality.RSquared)
	}

	n := len(res.Table)
	if n > 0 {
		residuals := make([]float64, n)
		for i, s := range res.Table {
			residuals[i] = s.Volume - res.Model.Volume(s.Area)
		}
		mean, std := stat.MeanStdDev(residuals, nil)
		fmt.Printf("  Residuals over the whole table: mean %.1f m³, σ %.1f m³\n", mean, std)
	}
	fmt.Printf("\n")
}

func displayChanges(obs types.ObservationSeries, model stagestorage.Model, pixelSize float64) {
	if len(obs) < 2 {
		fmt.Printf("No observation history for this region.\n")
		return
	}
	changes := storagechange.NewConverter(pixelSize).Convert(obs, model)
	rates := storagechange.ToDischarge(changes)

	fmt.Printf("Storage Change\n")
	fmt.Printf("==============\n\n")
	fmt.Printf("%8s | %14s | %12s\n", "Month", "ΔV(m³)", "Q(m³/s)")
	fmt.Printf("---------+----------------+-------------\n")
	for i, c := range changes {
		fmt.Printf("%8s | %14.1f | %12.4f\n", c.Step, c.Volume, rates[i])
	}
	fmt.Printf("\nNet change: %.1f m³ over %d months\n", storagechange.Total(changes), len(changes))
}

func exportCSV(filename string, res stagestorage.FitResult) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	// Write header
	header := []string{"Height_m", "Pixels", "Area_m2", "Volume_m3", "Incremental", "Predicted_Volume_m3", "Residual_m3", "Fitted"}
	if err := writer.Write(header); err != nil {
		return err
	}

	// Write data
	for i, s := range res.Table {
		predicted := res.Model.Volume(s.Area)
		fitted := res.Degenerate || (i >= res.Truncation.Mini && i < res.Truncation.End)
		record := []string{
			fmt.Sprintf("%.2f", s.Height),
			fmt.Sprintf("%d", s.PixelCount),
			fmt.Sprintf("%.2f", s.Area),
			fmt.Sprintf("%.2f", s.Volume),
			fmt.Sprintf("%d", s.IncrementalCount),
			fmt.Sprintf("%.2f", predicted),
			fmt.Sprintf("%.2f", s.Volume-predicted),
			fmt.Sprintf("%t", fitted),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	return nil
}
