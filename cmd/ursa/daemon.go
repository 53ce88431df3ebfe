package main

import (
	"context"
	"errors"

	"github.com/mitchellh/go-homedir"
	"github.com/urfave/cli/v2"
	"go.opencensus.io/stats"
	"go.opencensus.io/stats/view"
	"go.opencensus.io/tag"
	"golang.org/x/xerrors"

	"github.com/ursa-network/ursa/build"
	"github.com/ursa-network/ursa/metrics"
	"github.com/ursa-network/ursa/node"
	"github.com/ursa-network/ursa/node/repo"
	"github.com/ursa-network/ursa/swarm"
)

func openRepo(cctx *cli.Context) (*repo.FsRepo, error) {
	r, err := repo.NewFS(cctx.String("repo"))
	if err != nil {
		return nil, xerrors.Errorf("opening fs repo: %w", err)
	}
	if cfg := cctx.String("config"); cfg != "" {
		r.SetConfigPath(cfg)
	}
	return r, nil
}

var initCmd = &cli.Command{
	Name:  "init",
	Usage: "Initialize a node repo",
	Action: func(cctx *cli.Context) error {
		r, err := openRepo(cctx)
		if err != nil {
			return err
		}
		if err := r.Init(); err != nil {
			return err
		}

		lr, err := r.Lock()
		if err != nil {
			return err
		}
		defer lr.Close() //nolint:errcheck

		// generates the identity on first use
		if _, err := lr.Libp2pIdentity(); err != nil {
			return xerrors.Errorf("creating identity: %w", err)
		}
		log.Infow("repo initialized", "path", lr.Path())
		return nil
	},
}

var daemonCmd = &cli.Command{
	Name:  "daemon",
	Usage: "Start an ursa daemon process",
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:  "bootstrap",
			Value: true,
			Usage: "dial the configured bootstrap peers on start",
		},
		&cli.StringFlag{
			Name:    "panic-reports",
			EnvVars: []string{"URSA_PANIC_REPORT_PATH"},
			Usage:   "directory for panic reports, defaults to a subdirectory of the repo",
		},
	},
	Action: func(cctx *cli.Context) error {
		defer func() {
			if r := recover(); r != nil {
				repoPath, _ := homedir.Expand(cctx.String("repo"))
				build.GeneratePanicReport(cctx.String("panic-reports"), repoPath, "daemon")
				panic(r)
			}
		}()

		ctx := cctx.Context
		if ctx == nil {
			ctx = context.Background()
		}

		ctx, _ = tag.New(ctx,
			tag.Insert(metrics.Version, build.BuildVersion),
			tag.Insert(metrics.Commit, build.CurrentCommit),
		)
		// Register all metric views
		if err := view.Register(metrics.NodeViews...); err != nil {
			return xerrors.Errorf("registering metric views: %w", err)
		}
		// Set the metric to one so it is published to the exporter
		stats.Record(ctx, metrics.UrsaInfo.M(1))

		r, err := openRepo(cctx)
		if err != nil {
			return err
		}
		if err := r.Init(); err != nil && !errors.Is(err, repo.ErrRepoExists) {
			return xerrors.Errorf("initializing repo: %w", err)
		}

		var s *swarm.Swarm
		stop, err := node.New(ctx,
			node.Repo(r),
			node.Online(),

			node.ApplyIf(func(s *node.Settings) bool { return !cctx.Bool("bootstrap") },
				node.Unset(node.BootstrapKey),
			),
			node.Extract(&s),
		)
		if err != nil {
			return xerrors.Errorf("initializing node: %w", err)
		}

		addrs, err := s.ListenAddrs(ctx)
		if err != nil {
			log.Warnw("getting listen addresses", "error", err)
		}
		log.Infow("ursa daemon started",
			"version", build.UserVersion(),
			"peer", s.Host().ID(),
			"addrs", addrs,
		)

		finishCh := node.MonitorShutdown(make(chan struct{}),
			node.ShutdownHandler{Component: "node", StopFunc: stop},
		)
		<-finishCh
		return nil
	},
}
