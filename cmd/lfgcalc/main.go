// Command lfgcalc computes landfill methane generation, capture and
// emissions tables from method documents and caches them on disk.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/rshade/lfgcalc/internal/artifact"
	"github.com/rshade/lfgcalc/internal/lfg"
	"github.com/rshade/lfgcalc/internal/methodconfig"
	"github.com/rshade/lfgcalc/internal/refdata"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "[lfgcalc] Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

// app carries configuration and the logger from the root command to its
// subcommands.
type app struct {
	cfg    cliConfig
	logger zerolog.Logger
}

func newRootCmd() *cobra.Command {
	bootstrap := newLogger(zerolog.InfoLevel.String())
	a := &app{cfg: parseEnvConfig(bootstrap), logger: bootstrap}

	root := &cobra.Command{
		Use:           "lfgcalc",
		Short:         "Landfill gas first-order decay calculator",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.cfg.validate(); err != nil {
				return err
			}
			a.logger = newLogger(a.cfg.LogLevel)
			refdata.SetLogger(a.logger)
			return nil
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.cfg.OutputDir, "output-dir", a.cfg.OutputDir, "directory holding cached artifacts ("+envOutputDir+")")
	flags.StringSliceVar(&a.cfg.MethodPaths, "method-path", a.cfg.MethodPaths,
		"extra directory searched for method documents before the built-in ones; repeatable ("+envMethodPath+")")
	flags.StringVar(&a.cfg.RemoteURL, "remote-url", a.cfg.RemoteURL,
		"bucket URL holding published artifacts, e.g. s3://bucket?region=us-east-1 ("+envRemoteURL+")")
	flags.BoolVar(&a.cfg.Download, "download", a.cfg.Download, "fetch missing artifacts from --remote-url ("+envDownload+")")
	flags.BoolVar(&a.cfg.Generate, "generate", a.cfg.Generate, "generate artifacts that cannot be loaded or fetched")
	flags.StringVar(&a.cfg.LogLevel, "log-level", a.cfg.LogLevel, "trace, debug, info, warn or error ("+envLogLevel+")")
	flags.StringVar(&a.cfg.MethodURLBase, "method-url-base", a.cfg.MethodURLBase,
		"base of the method_url recorded in metadata ("+envURLBase+")")

	root.AddCommand(
		a.runCmd(),
		a.generateCmd(),
		a.configCmd(),
		a.listCmd(),
		a.publishCmd(),
		versionCmd(),
	)
	return root
}

func (a *app) resolver() *methodconfig.Resolver {
	return methodconfig.NewResolver(a.cfg.MethodPaths, a.logger)
}

// orchestrator wires the store, generator and optional remote. The returned
// function closes the remote.
func (a *app) orchestrator(ctx context.Context) (*artifact.Orchestrator, func(), error) {
	cfg := artifact.Config{
		Store:         artifact.NewLocalStore(a.cfg.OutputDir, a.logger),
		Generator:     lfg.NewGenerator(a.resolver(), a.logger),
		Policy:        artifact.Policy{Download: a.cfg.Download, Generate: a.cfg.Generate},
		MethodURLBase: a.cfg.MethodURLBase,
	}
	closeFn := func() {}
	if a.cfg.Download {
		remote, err := artifact.OpenRemote(ctx, a.cfg.RemoteURL)
		if err != nil {
			return nil, nil, err
		}
		cfg.Remote = remote
		closeFn = func() { _ = remote.Close() }
	}

	o, err := artifact.NewOrchestrator(cfg, a.logger)
	if err != nil {
		closeFn()
		return nil, nil, err
	}
	return o, closeFn, nil
}

func (a *app) runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run METHOD...",
		Short: "Load, fetch or generate the artifact for each method",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.resolveEach(cmd, args, (*artifact.Orchestrator).ResolveOrGenerate)
		},
	}
}

func (a *app) generateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "generate METHOD...",
		Short: "Regenerate the artifact for each method, replacing any cached copy",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.resolveEach(cmd, args, (*artifact.Orchestrator).Generate)
		},
	}
}

func (a *app) resolveEach(
	cmd *cobra.Command,
	names []string,
	resolve func(*artifact.Orchestrator, context.Context, string) (*artifact.Artifact, error),
) error {
	o, closeFn, err := a.orchestrator(cmd.Context())
	if err != nil {
		return err
	}
	defer closeFn()

	for _, name := range names {
		art, err := resolve(o, cmd.Context(), name)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", art.Name, art.Source, art.DataPath)
	}
	return nil
}

func (a *app) configCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config METHOD",
		Short: "Print the method document with every include resolved",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := lfg.NewGenerator(a.resolver(), a.logger).ResolvedConfig(args[0])
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
}

func (a *app) listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List available methods",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			names, err := a.resolver().Available()
			if err != nil {
				return err
			}
			for _, n := range names {
				fmt.Fprintln(cmd.OutOrStdout(), n)
			}
			return nil
		},
	}
}

func (a *app) publishCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "publish METHOD...",
		Short: "Upload locally cached artifacts to --remote-url",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.cfg.RemoteURL == "" {
				return fmt.Errorf("publish requires --remote-url or %s", envRemoteURL)
			}
			remote, err := artifact.OpenRemote(cmd.Context(), a.cfg.RemoteURL)
			if err != nil {
				return err
			}
			defer remote.Close()

			store := artifact.NewLocalStore(a.cfg.OutputDir, a.logger)
			for _, arg := range args {
				name, _ := methodconfig.CanonicalName(arg)
				if err := artifact.ValidName(name); err != nil {
					return err
				}
				if _, _, err := store.Load(name); err != nil {
					return fmt.Errorf("publish %s: %w", name, err)
				}
				data, err := os.ReadFile(store.DataPath(name))
				if err != nil {
					return err
				}
				meta, err := os.ReadFile(store.MetadataPath(name))
				if err != nil {
					return err
				}
				if err := remote.Publish(cmd.Context(), name, data, meta); err != nil {
					return err
				}
				a.logger.Info().Str("method", name).Str("remote", remote.URL()).Msg("artifact published")
			}
			return nil
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			b := artifact.CurrentBuild()
			fmt.Fprintf(cmd.OutOrStdout(), "lfgcalc %s %s\n", b.Version, b.ShortHash())
		},
	}
}
