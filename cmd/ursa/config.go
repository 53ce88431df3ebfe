package main

import (
	"bytes"
	"fmt"
	"reflect"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/urfave/cli/v2"
	"golang.org/x/xerrors"

	"github.com/ursa-network/ursa/node/config"
)

var configCmd = &cli.Command{
	Name:  "config",
	Usage: "Manage node config",
	Subcommands: []*cli.Command{
		configDefaultCmd,
		configUpdateCmd,
	},
}

var configDefaultCmd = &cli.Command{
	Name:  "default",
	Usage: "Print default node config",
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:  "no-comment",
			Usage: "don't comment default values",
		},
	},
	Action: func(cctx *cli.Context) error {
		c := config.DefaultRoot()

		if cctx.Bool("no-comment") {
			buf := new(bytes.Buffer)
			_, _ = buf.WriteString("# Default config:\n")
			e := toml.NewEncoder(buf)
			if err := e.Encode(c); err != nil {
				return xerrors.Errorf("encoding default config: %w", err)
			}

			fmt.Println(buf.String())
			return nil
		}

		cb, err := config.ConfigComment(c)
		if err != nil {
			return err
		}

		fmt.Println(string(cb))
		return nil
	},
}

var configUpdateCmd = &cli.Command{
	Name:  "updated",
	Usage: "Print the repo config with values equal to the defaults commented out",
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:  "no-comment",
			Usage: "don't comment default values",
		},
	},
	Action: func(cctx *cli.Context) error {
		r, err := openRepo(cctx)
		if err != nil {
			return err
		}

		ok, err := r.Exists()
		if err != nil {
			return err
		}
		if !ok {
			return xerrors.Errorf("repo not initialized")
		}

		lr, err := r.Lock()
		if err != nil {
			return xerrors.Errorf("locking repo: %w", err)
		}

		cfgNode, err := lr.Config()
		if err != nil {
			_ = lr.Close()
			return xerrors.Errorf("getting node config: %w", err)
		}

		if err := lr.Close(); err != nil {
			return err
		}

		nodeStr, err := updatedConfig(cfgNode, !cctx.Bool("no-comment"))
		if err != nil {
			return err
		}

		fmt.Println(nodeStr)
		return nil
	},
}

func encodeConfig(c *config.Root) (string, error) {
	buf := new(bytes.Buffer)
	if err := toml.NewEncoder(buf).Encode(c); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// updatedConfig encodes cfgNode, commenting out the lines that match the
// defaults when comment is set. The result must parse back to cfgNode.
func updatedConfig(cfgNode *config.Root, comment bool) (string, error) {
	defStr, err := encodeConfig(config.DefaultRoot())
	if err != nil {
		return "", xerrors.Errorf("encoding default config: %w", err)
	}
	nodeStr, err := encodeConfig(cfgNode)
	if err != nil {
		return "", xerrors.Errorf("encoding node config: %w", err)
	}

	if comment {
		defaults := map[string]struct{}{}
		for _, l := range strings.Split(defStr, "\n") {
			l = strings.TrimSpace(l)
			if len(l) == 0 || l[0] == '#' || l[0] == '[' {
				continue
			}
			defaults[l] = struct{}{}
		}

		nodeLines := strings.Split(nodeStr, "\n")
		for i := range nodeLines {
			if _, found := defaults[strings.TrimSpace(nodeLines[i])]; found {
				nodeLines[i] = "#" + nodeLines[i]
			}
		}

		nodeStr = strings.Join(nodeLines, "\n")
	}

	// sanity-check that the updated config parses the same way as the current one
	cfgUpdated, err := config.FromReader(strings.NewReader(nodeStr), config.DefaultRoot())
	if err != nil {
		return "", xerrors.Errorf("parsing updated config: %w", err)
	}
	if !reflect.DeepEqual(cfgNode, cfgUpdated) {
		return "", xerrors.Errorf("updated config didn't match current config")
	}

	return nodeStr, nil
}
