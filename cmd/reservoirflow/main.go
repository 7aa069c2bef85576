package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/chrissnell/reservoirflow/internal/app"
	"github.com/chrissnell/reservoirflow/internal/constants"
	"github.com/chrissnell/reservoirflow/internal/log"
	"github.com/chrissnell/reservoirflow/pkg/config"
)

func main() {
	cfgFile := flag.String("config", "config.yaml", "Path to the YAML run configuration")
	debug := flag.Bool("debug", false, "Turn on debugging output")
	showVersion := flag.Bool("version", false, "Show version and exit")
	importObs := flag.Bool("import-observations", false, "Copy the bundle's observations into the results database and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("reservoirflow %s\n", constants.Version)
		os.Exit(0)
	}

	// Set up logging
	if err := log.Init(*debug); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	filename, _ := filepath.Abs(*cfgFile)
	provider := config.NewYAMLProvider(filename)
	if _, err := provider.LoadConfig(); err != nil {
		log.Errorf("error reading config file. Did you pass the -config flag? Run with -h for help: %v", err)
		os.Exit(1)
	}

	// Create and run the application
	application := app.New(provider, log.GetSugaredLogger())
	if *importObs {
		if _, err := application.ImportObservations(context.Background()); err != nil {
			log.Errorf("Observation import failed: %v", err)
			os.Exit(1)
		}
		return
	}
	if err := application.Run(context.Background()); err != nil {
		log.Errorf("Application error: %v", err)
		os.Exit(1)
	}
}
