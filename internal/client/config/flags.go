package config

import (
	"flag"
	"os"
	"time"

	"github.com/slalomtime/racesync/internal/flagx"
)

// parseFlags populates selected client Config fields from command-line flags.
//
// Supported flags:
//
//	-u string   server base URL
//	-i string   device id (generated when omitted)
//	-n string   device display name
//	-r string   device role: timer, gateJudge or chiefJudge
//	-f string   local sqlite database path
//	-p int      poll interval, seconds
//	-o bool     enable cloud sync
//
// Args are filtered to the flags handled here first, so flags owned by other
// components never collide.
func parseFlags(config *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-u", "-i", "-n", "-r", "-f", "-p", "-o"})

	fs := flag.NewFlagSet("client", flag.ContinueOnError)

	fs.StringVar(&config.ServerURL, "u", config.ServerURL, "server base URL")
	fs.StringVar(&config.DeviceID, "i", config.DeviceID, "device id")
	fs.StringVar(&config.DeviceName, "n", config.DeviceName, "device name")
	fs.StringVar(&config.Role, "r", config.Role, "device role")
	fs.StringVar(&config.LocalDSN, "f", config.LocalDSN, "local database path")
	fs.BoolVar(&config.SyncEnabled, "o", config.SyncEnabled, "enable cloud sync")

	poll := fs.Int("p", int(config.PollInterval.Seconds()), "poll interval (in seconds)")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	config.PollInterval = time.Duration(*poll) * time.Second
}
