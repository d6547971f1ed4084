package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/anoop6543/PharmaVax-sub001/internal/app"
	gormadapter "github.com/anoop6543/PharmaVax-sub001/pkg/control/adapter/database/gorm"
	"github.com/anoop6543/PharmaVax-sub001/pkg/control/adapter/storage"
	"github.com/anoop6543/PharmaVax-sub001/pkg/control/adapter/storage/gcs"
	"github.com/anoop6543/PharmaVax-sub001/pkg/control/adapter/storage/local"
	"github.com/anoop6543/PharmaVax-sub001/pkg/control/component/export"
	"github.com/anoop6543/PharmaVax-sub001/pkg/control/core/audit"
	"github.com/anoop6543/PharmaVax-sub001/pkg/control/core/config"
	sqlrepo "github.com/anoop6543/PharmaVax-sub001/pkg/control/infrastructure/repository/sql"
	"github.com/anoop6543/PharmaVax-sub001/pkg/control/support/util/logger"
)

const (
	sourceArchive  = "archive"
	sourceDatabase = "database"
)

type globalOptions struct {
	configPath  string
	envFilePath string
}

func newRootCommand() *cobra.Command {
	opts := &globalOptions{}
	root := &cobra.Command{
		Use:           "pharma-dcs",
		Short:         "Simulated distributed control system for pharmaceutical manufacturing",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "controller YAML file (defaults to the built-in plant)")
	root.PersistentFlags().StringVar(&opts.envFilePath, "env-file", os.Getenv("ENV_FILE_PATH"), ".env file applied before PHARMA_ overrides")

	root.AddCommand(
		newRunCommand(opts),
		newValidateCommand(opts),
		newVerifyAuditCommand(opts),
	)
	return root
}

func (o *globalOptions) raw() (config.EmbeddedConfig, error) {
	if o.configPath == "" {
		return defaultConfig, nil
	}
	data, err := os.ReadFile(o.configPath)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", o.configPath, err)
	}
	return data, nil
}

func (o *globalOptions) load() (*config.Config, error) {
	raw, err := o.raw()
	if err != nil {
		return nil, err
	}
	cfg, err := config.LoadConfig(o.envFilePath, raw, nil)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newRunCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the controller and its operator API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := opts.raw()
			if err != nil {
				return err
			}
			application := app.New(raw, opts.envFilePath)
			if err := application.Err(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			startCtx, cancel := context.WithTimeout(ctx, application.StartTimeout())
			defer cancel()
			if err := application.Start(startCtx); err != nil {
				return err
			}

			<-ctx.Done()
			logger.Warnf("Shutdown requested, stopping controller.")

			stopCtx, cancelStop := context.WithTimeout(context.Background(), application.StopTimeout())
			defer cancelStop()
			return application.Stop(stopCtx)
		},
	}
}

func newValidateCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate-config",
		Short: "Load and validate the configuration without starting the controller",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			cc := cfg.Controller
			fmt.Fprintf(cmd.OutOrStdout(), "configuration OK: %s, %d units, %d recipes\n", cc.Name, len(cc.Units), len(cc.Recipes))
			return nil
		},
	}
}

func newVerifyAuditCommand(opts *globalOptions) *cobra.Command {
	var source string
	cmd := &cobra.Command{
		Use:   "verify-audit",
		Short: "Verify the signatures of persisted audit entries",
		Long: `Loads audit entries from the parquet archive or from the database and checks each
signature with the configured signing key. Exits non-zero when any entry fails.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			var entries []audit.Entry
			switch source {
			case sourceArchive:
				entries, err = loadArchive(cmd.Context(), cfg)
			case sourceDatabase:
				entries, err = loadDatabase(cmd.Context(), cfg)
			default:
				err = fmt.Errorf("unknown source %q (want %s or %s)", source, sourceArchive, sourceDatabase)
			}
			if err != nil {
				return err
			}
			signer := audit.NewSigner(cfg.Controller.Audit.SigningKey)
			return report(cmd.OutOrStdout(), audit.VerifyEntries(signer, entries))
		},
	}
	cmd.Flags().StringVar(&source, "source", sourceArchive, "where to read entries from: archive or database")
	return cmd
}

func report(w io.Writer, r audit.VerifyReport) error {
	fmt.Fprintf(w, "checked %d entries, %d valid\n", r.Checked, r.Valid)
	for _, id := range r.InvalidIDs {
		fmt.Fprintf(w, "INVALID %s\n", id)
	}
	if !r.OK() {
		return fmt.Errorf("%d audit entries failed verification", len(r.InvalidIDs))
	}
	return nil
}

func loadArchive(ctx context.Context, cfg *config.Config) ([]audit.Entry, error) {
	archive := cfg.Controller.Audit.Archive
	if archive.Storage == "" {
		return nil, errors.New("audit archive storage is not configured")
	}
	resolver := storage.NewResolver(cfg.Controller.Storage, local.NewProvider(), gcs.NewProvider())
	defer resolver.CloseAll()
	conn, err := resolver.Resolve(ctx, archive.Storage)
	if err != nil {
		return nil, err
	}
	return export.LoadArchivedEntries(ctx, conn, archive)
}

func loadDatabase(ctx context.Context, cfg *config.Config) ([]audit.Entry, error) {
	dbCfg := cfg.Controller.Database
	if !dbCfg.Enabled {
		return nil, errors.New("database persistence is not enabled")
	}
	db, err := gormadapter.Open(dbCfg, cfg.Controller.System.Logging.Level)
	if err != nil {
		return nil, err
	}
	defer gormadapter.Close(db)
	return sqlrepo.NewRepository(db).AuditEntries(ctx, sqlrepo.AuditQuery{})
}
