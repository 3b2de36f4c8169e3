package config

import (
	"flag"
	"os"

	"github.com/quiverhq/quiver/internal/flagx"
)

// parseFlags populates selected Config fields from command-line flags.
//
// Supported flags:
//
//	-a string   address of the sync server
//	-d string   path to the local database file
//	-s          enable synchronization
//
// Args are prefiltered with flagx.FilterArgs so other components' flags do
// not interfere.
func parseFlags(cfg *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-a", "-d", "-s"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&cfg.ServerEndpointAddr, "a", cfg.ServerEndpointAddr, "address of the sync server")
	fs.StringVar(&cfg.DatabasePath, "d", cfg.DatabasePath, "path to the local database file")
	fs.BoolVar(&cfg.SyncEnabled, "s", cfg.SyncEnabled, "enable synchronization")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}
}
