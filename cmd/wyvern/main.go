// Command wyvern lists, offers on, buys and sells NFTs through the marketplace backend.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/mitchellh/go-homedir"
	"github.com/urfave/cli/v2"
	"golang.org/x/term"

	wyvernmarket "github.com/wisysta/wyvern-market-sdk-go"
	"github.com/wisysta/wyvern-market-sdk-go/chain"
	logging "github.com/wisysta/wyvern-market-sdk-go/log"
)

var logger = logging.Logger("wyvern")

const (
	flagConfig     = "config"
	flagHost       = "host"
	flagWSEndpoint = "ws"
	flagRPC        = "rpc"
	flagLogLevel   = "log-level"

	envPrivateKey = "WYVERN_PRIVATE_KEY"
)

func main() {
	_ = godotenv.Load()

	app := &cli.App{
		Name:    "wyvern",
		Usage:   "Wyvern NFT marketplace client",
		Version: "0.1.0",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    flagConfig,
				EnvVars: []string{"WYVERN_CONFIG"},
				Value:   "~/.wyvern/config.toml",
				Usage:   "TOML config file, skipped when missing",
			},
			&cli.StringFlag{
				Name:    flagHost,
				EnvVars: []string{"WYVERN_HOST"},
				Usage:   "marketplace backend URL",
			},
			&cli.StringFlag{
				Name:    flagWSEndpoint,
				EnvVars: []string{"WYVERN_WS"},
				Usage:   "order feed websocket URL",
			},
			&cli.StringFlag{
				Name:    flagRPC,
				EnvVars: []string{"WYVERN_RPC_URL"},
				Usage:   "Ethereum JSON-RPC URL",
			},
			&cli.StringFlag{
				Name:  flagLogLevel,
				Usage: "debug, info, warn or error",
			},
		},
		Before: func(cctx *cli.Context) error {
			if lvl := cctx.String(flagLogLevel); lvl != "" {
				return logging.SetLevel(lvl)
			}
			return nil
		},
		After: func(*cli.Context) error {
			_ = logging.Sync()
			return nil
		},
		Commands: []*cli.Command{
			statusCmd,
			listingsCmd,
			sellCmd,
			offerCmd,
			buyCmd,
			acceptCmd,
			verifyCmd,
			watchCmd,
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", err) // nolint:errcheck
		os.Exit(1)
	}
}

// loadConfig reads the config file when present; flags override it.
func loadConfig(cctx *cli.Context) (*wyvernmarket.FileConfig, error) {
	cfg := &wyvernmarket.FileConfig{}

	path, err := homedir.Expand(cctx.String(flagConfig))
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(path); err == nil {
		cfg, err = wyvernmarket.LoadConfig(path)
		if err != nil {
			return nil, err
		}
		if cfg.LogLevel != "" && !cctx.IsSet(flagLogLevel) {
			if err := logging.SetLevel(cfg.LogLevel); err != nil {
				return nil, err
			}
		}
	} else if cctx.IsSet(flagConfig) {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}

	if v := cctx.String(flagHost); v != "" {
		cfg.Host = v
	}
	if v := cctx.String(flagWSEndpoint); v != "" {
		cfg.WSEndpoint = v
	}
	if v := cctx.String(flagRPC); v != "" {
		cfg.RPCURL = v
	}
	return cfg, nil
}

func newClient(cctx *cli.Context) (*wyvernmarket.Client, error) {
	cfg, err := loadConfig(cctx)
	if err != nil {
		return nil, err
	}
	return wyvernmarket.NewClient(cfg.ClientConfig())
}

// login signs in with the key from the environment, prompting when unset.
func login(ctx context.Context, client *wyvernmarket.Client) (*wyvernmarket.Session, error) {
	key := strings.TrimSpace(os.Getenv(envPrivateKey))
	if key == "" {
		var err error
		key, err = promptPrivateKey()
		if err != nil {
			return nil, err
		}
	}

	signer, err := client.KeySigner(key)
	if err != nil {
		return nil, err
	}

	session, err := client.Login(ctx, signer)
	if err != nil {
		if errors.Is(err, chain.ErrSigningCancelled) {
			return nil, fmt.Errorf("login cancelled")
		}
		return nil, err
	}
	logger.Infow("logged in", "account", session.Account.Hex())
	return session, nil
}

func promptPrivateKey() (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("%s is not set and stdin is not a terminal", envPrivateKey)
	}

	fmt.Fprint(os.Stderr, "Private key: ") // nolint:errcheck
	raw, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr) // nolint:errcheck
	if err != nil {
		return "", fmt.Errorf("read private key: %w", err)
	}
	return strings.TrimSpace(string(raw)), nil
}
