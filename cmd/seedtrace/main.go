package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dharsanguruparan/SeedTrace/internal/client"
	"github.com/dharsanguruparan/SeedTrace/internal/model"
	"github.com/dharsanguruparan/SeedTrace/internal/signing"
)

type globalOptions struct {
	server   string
	identity string
	secret   string
	ttl      time.Duration
}

var opts globalOptions

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rootCmd := newRootCommand()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "seedtrace: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seedtrace",
		Short: "SeedTrace supply chain CLI",
		Long: `SeedTrace CLI talks to a SeedTrace API server: it mints and advances assets,
manages roles and the transfer whitelist, and issues signed credentials. It can
also run the server and worker binaries during development.`,
		SilenceUsage: true,
	}
	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.server, "server", envOr("SEEDTRACE_URL", "http://localhost:8080"), "API base URL")
	flags.StringVar(&opts.identity, "as", os.Getenv("SEEDTRACE_IDENTITY"), "Identity to sign requests as")
	flags.StringVar(&opts.secret, "secret", os.Getenv("SEEDTRACE_SIGNING_SECRET"), "Shared credential signing secret")
	flags.DurationVar(&opts.ttl, "ttl", time.Minute, "Lifetime of issued credentials")
	cmd.AddCommand(
		newCredentialCmd(),
		newStatusCmd(),
		newInitCmd(),
		newAssetCmd(),
		newRoleCmd(),
		newWhitelistCmd(),
		newBalanceCmd(),
		newPauseCmd(true),
		newPauseCmd(false),
		newTestCmd(),
		newRunCmd(),
	)
	return cmd
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func signer() (*signing.Signer, error) {
	if opts.secret == "" {
		return nil, errors.New("no signing secret: set --secret or SEEDTRACE_SIGNING_SECRET")
	}
	return signing.NewSigner([]byte(opts.secret)), nil
}

// newClient returns an anonymous client, or a signing one when authenticated
// is set.
func newClient(authenticated bool) (*client.Client, error) {
	if !authenticated {
		return client.New(opts.server, nil, "", opts.ttl), nil
	}
	if opts.identity == "" {
		return nil, errors.New("no identity: set --as or SEEDTRACE_IDENTITY")
	}
	s, err := signer()
	if err != nil {
		return nil, err
	}
	return client.New(opts.server, s, opts.identity, opts.ttl), nil
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func parseHandle(raw string) (model.Handle, error) {
	n, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid token id %q", raw)
	}
	return model.Handle(n), nil
}

func newCredentialCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "credential",
		Short: "Print signed credential headers for --as",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.identity == "" {
				return errors.New("no identity: set --as or SEEDTRACE_IDENTITY")
			}
			s, err := signer()
			if err != nil {
				return err
			}
			cred := s.Issue(opts.identity, opts.ttl, time.Now())
			return printJSON(cmd, map[string]string{
				signing.HeaderIdentity:  cred.Identity,
				signing.HeaderExpires:   strconv.FormatInt(cred.Expires, 10),
				signing.HeaderSignature: cred.Signature,
			})
		},
	}
}

func newTestCmd() *cobra.Command {
	var race bool
	var cover bool
	cmd := &cobra.Command{
		Use:   "test [packages]",
		Short: "Run Go tests (defaults to ./...)",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			pkgs := args
			if len(pkgs) == 0 {
				pkgs = []string{"./..."}
			}
			goArgs := []string{"test"}
			if race {
				goArgs = append(goArgs, "-race")
			}
			if cover {
				goArgs = append(goArgs, "-cover")
			}
			goArgs = append(goArgs, pkgs...)
			return runCommand(ctx, "go", goArgs...)
		},
	}
	cmd.Flags().BoolVar(&race, "race", false, "Enable Go race detector")
	cmd.Flags().BoolVar(&cover, "cover", false, "Collect coverage data")
	return cmd
}

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run individual Go binaries directly",
	}
	cmd.AddCommand(
		newServiceRunner("server", "./cmd/server"),
		newServiceRunner("worker", "./cmd/worker"),
	)
	return cmd
}

func newServiceRunner(name, path string) *cobra.Command {
	return &cobra.Command{
		Use:   name,
		Short: fmt.Sprintf("go run %s", path),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			goArgs := []string{"run", path}
			goArgs = append(goArgs, args...)
			return runCommand(ctx, "go", goArgs...)
		},
	}
}

func runCommand(ctx context.Context, name string, args ...string) error {
	execCmd := exec.CommandContext(ctx, name, args...)
	execCmd.Stdout = os.Stdout
	execCmd.Stderr = os.Stderr
	execCmd.Stdin = os.Stdin
	return execCmd.Run()
}
