package main

import (
	"os"

	logging "github.com/ipfs/go-log/v2"
	"github.com/urfave/cli/v2"

	"github.com/ursa-network/ursa/build"
	"github.com/ursa-network/ursa/lib/ursalog"
)

var log = logging.Logger("main")

func main() {
	ursalog.SetupLogLevels()

	app := &cli.App{
		Name:                 "ursa",
		Usage:                "Peer-to-peer content delivery node",
		Version:              build.UserVersion(),
		EnableBashCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "repo",
				EnvVars: []string{"URSA_PATH"},
				Value:   "~/.ursa",
				Usage:   "path to the node repo",
			},
			&cli.StringFlag{
				Name:    "config",
				EnvVars: []string{"URSA_CONFIG"},
				Usage:   "config file to use instead of the one in the repo",
			},
		},
		Commands: []*cli.Command{
			initCmd,
			daemonCmd,
			configCmd,
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Errorf("%+v", err)
		os.Exit(1)
	}
}
