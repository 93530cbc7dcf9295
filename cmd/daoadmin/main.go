// Command daoadmin runs operator tasks against a daostore database:
// seeding the catalog, promoting admins, closing proposals and managing
// backups.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dukerupert/daostore/internal/backup"
	"github.com/dukerupert/daostore/internal/config"
	"github.com/dukerupert/daostore/internal/database"
	"github.com/dukerupert/daostore/internal/governance"
	"github.com/dukerupert/daostore/internal/ledger"
	"github.com/dukerupert/daostore/internal/logging"
	"github.com/dukerupert/daostore/internal/push"
	"github.com/dukerupert/daostore/internal/server"
	"github.com/dukerupert/daostore/internal/shop"
	"github.com/dukerupert/daostore/internal/store"
	ws "github.com/dukerupert/daostore/internal/websocket"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type globalFlags struct {
	dbPath   string
	logLevel string
}

// env is what every subcommand needs: configuration, a logger and the
// database.
type env struct {
	cfg    config.Config
	db     *sql.DB
	logger *slog.Logger
	out    io.Writer
}

func (g *globalFlags) open(cmd *cobra.Command) (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if g.dbPath != "" {
		cfg.Database.Path = g.dbPath
	}
	level := cfg.Logging.Level
	if g.logLevel != "" {
		level = g.logLevel
	}
	logger := logging.New(cmd.ErrOrStderr(), level, cfg.Logging.Format)

	db, err := database.Open(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return &env{cfg: cfg, db: db, logger: logger, out: cmd.OutOrStdout()}, nil
}

func (e *env) Close() error {
	return e.db.Close()
}

func (e *env) governance() *governance.Service {
	return governance.NewService(e.db, governance.Config{
		DefaultVotingDays: e.cfg.Governance.DefaultVotingDays,
		MaxVotingDays:     e.cfg.Governance.MaxVotingDays,
	}, ws.NewHub(e.logger), e.logger.With("component", "governance"))
}

func (e *env) backups(passphrase string) *backup.Manager {
	cfg := server.BackupConfig(e.cfg.Backup)
	if passphrase != "" {
		cfg.Passphrase = passphrase
	}
	return backup.NewManager(cfg, e.db, store.NewBackupStore(e.db), nil, e.logger.With("component", "backup"))
}

func rootCmd() *cobra.Command {
	g := &globalFlags{}

	cmd := &cobra.Command{
		Use:          "daoadmin",
		Short:        "Operator tools for daostore",
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&g.dbPath, "db", "", "Database path (default $DAOSTORE_DB_PATH or daostore.db)")
	cmd.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "Log level (debug, info, warn, error)")

	cmd.AddCommand(
		seedProductsCmd(g),
		promoteCmd(g),
		grantCmd(g),
		finalizeCmd(g),
		executeCmd(g),
		backupCmd(g),
		listBackupsCmd(g),
		restoreCmd(g),
		vapidKeysCmd(),
	)
	return cmd
}

func seedProductsCmd(g *globalFlags) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "seed-products",
		Short: "Create products from a YAML catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			products, err := loadCatalog(file)
			if err != nil {
				return err
			}
			e, err := g.open(cmd)
			if err != nil {
				return err
			}
			defer e.Close()

			svc := shop.NewService(e.db, ws.NewHub(e.logger), e.logger.With("component", "shop"))
			for i, in := range products {
				p, err := svc.CreateProduct(cmd.Context(), in)
				if err != nil {
					return fmt.Errorf("product %d (%q): %w", i+1, in.Name, err)
				}
				fmt.Fprintf(e.out, "created product %d %s (%d in stock)\n", p.ID, p.Name, p.StockQuantity)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "catalog.yaml", "Catalog YAML file")
	return cmd
}

func promoteCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "promote <wallet|email>",
		Short: "Grant the admin role to an existing member",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := g.open(cmd)
			if err != nil {
				return err
			}
			defer e.Close()

			l := ledger.NewService(e.db, ledger.Config{StartingBonus: e.cfg.Ledger.StartingBonus}, e.logger)
			m, err := l.Promote(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("promote %s: %w", args[0], err)
			}
			fmt.Fprintf(e.out, "member %d is now %s\n", m.ID, m.Role)
			return nil
		},
	}
}

func grantCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "grant <member-id> <amount>",
		Short: "Credit tokens to a member",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid member id %q", args[0])
			}
			amount, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid amount %q", args[1])
			}
			e, err := g.open(cmd)
			if err != nil {
				return err
			}
			defer e.Close()

			l := ledger.NewService(e.db, ledger.Config{StartingBonus: e.cfg.Ledger.StartingBonus}, e.logger)
			balance, err := l.Credit(cmd.Context(), id, amount)
			if err != nil {
				return fmt.Errorf("grant: %w", err)
			}
			fmt.Fprintf(e.out, "member %d balance is %d\n", id, balance)
			return nil
		},
	}
}

func finalizeCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "finalize",
		Short: "Close every proposal whose voting window has ended",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := g.open(cmd)
			if err != nil {
				return err
			}
			defer e.Close()

			finalized, err := e.governance().FinalizeExpired(cmd.Context())
			for _, p := range finalized {
				fmt.Fprintf(e.out, "proposal %d %q: %s (%d for, %d against, %d abstain)\n",
					p.ID, p.Title, p.Status, p.VotesFor, p.VotesAgainst, p.VotesAbstain)
			}
			if err != nil {
				return fmt.Errorf("finalize: %w", err)
			}
			if len(finalized) == 0 {
				fmt.Fprintln(e.out, "no proposals to finalize")
			}
			return nil
		},
	}
}

func executeCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "execute <proposal-id>",
		Short: "Mark a passed proposal as executed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid proposal id %q", args[0])
			}
			e, err := g.open(cmd)
			if err != nil {
				return err
			}
			defer e.Close()

			p, err := e.governance().Execute(cmd.Context(), id)
			if err != nil {
				return fmt.Errorf("execute proposal %d: %w", id, err)
			}
			fmt.Fprintf(e.out, "proposal %d executed at %s\n", p.ID, p.ExecutedAt.Format("2006-01-02 15:04:05Z07:00"))
			return nil
		},
	}
}

func backupCmd(g *globalFlags) *cobra.Command {
	var passphrase string
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Upload an encrypted snapshot of the database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := g.open(cmd)
			if err != nil {
				return err
			}
			defer e.Close()

			b, err := e.backups(passphrase).RunNow(cmd.Context())
			if err != nil {
				return fmt.Errorf("backup: %w", err)
			}
			fmt.Fprintf(e.out, "backup %d uploaded to %s (%d bytes)\n", b.ID, b.S3Key, b.SizeBytes)
			return nil
		},
	}
	cmd.Flags().StringVar(&passphrase, "passphrase", "", "Encryption passphrase (default $DAOSTORE_BACKUP_PASSPHRASE)")
	return cmd
}

func listBackupsCmd(g *globalFlags) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "backups",
		Short: "List recent backups",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := g.open(cmd)
			if err != nil {
				return err
			}
			defer e.Close()

			list, err := e.backups("").List(cmd.Context(), limit)
			if err != nil {
				return err
			}
			for _, b := range list {
				fmt.Fprintf(e.out, "%d\t%s\t%s\t%d\t%s\n", b.ID, b.StartedAt.Format("2006-01-02 15:04"), b.Status, b.SizeBytes, b.S3Key)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of backups to show")
	return cmd
}

func restoreCmd(g *globalFlags) *cobra.Command {
	var (
		passphrase string
		key        string
		out        string
	)
	cmd := &cobra.Command{
		Use:   "restore [backup-id]",
		Short: "Download and decrypt a backup into a database file",
		Long: `Restore writes the decrypted database to --out. Stop the server and
move the file into place yourself; the live database is never overwritten.
Use --key to restore straight from an object key when the local backup
records are unavailable.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if out == "" {
				return errors.New("--out is required")
			}
			if (key == "") == (len(args) == 0) {
				return errors.New("give either a backup id or --key")
			}
			e, err := g.open(cmd)
			if err != nil {
				return err
			}
			defer e.Close()

			if same, err := samePath(out, e.cfg.Database.Path); err != nil {
				return err
			} else if same {
				return fmt.Errorf("refusing to overwrite the live database %s", e.cfg.Database.Path)
			}

			m := e.backups(passphrase)
			if key != "" {
				err = m.RestoreKey(cmd.Context(), key, out)
			} else {
				id, perr := strconv.ParseInt(args[0], 10, 64)
				if perr != nil {
					return fmt.Errorf("invalid backup id %q", args[0])
				}
				err = m.Restore(cmd.Context(), id, out)
			}
			if err != nil {
				return fmt.Errorf("restore: %w", err)
			}
			fmt.Fprintf(e.out, "restored to %s\n", out)
			return nil
		},
	}
	cmd.Flags().StringVar(&passphrase, "passphrase", "", "Decryption passphrase (default $DAOSTORE_BACKUP_PASSPHRASE)")
	cmd.Flags().StringVar(&key, "key", "", "Object key to restore instead of a backup id")
	cmd.Flags().StringVarP(&out, "out", "o", "", "Destination database file")
	return cmd
}

func samePath(a, b string) (bool, error) {
	absA, err := filepath.Abs(a)
	if err != nil {
		return false, err
	}
	absB, err := filepath.Abs(b)
	if err != nil {
		return false, err
	}
	return absA == absB, nil
}

func vapidKeysCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "vapid-keys",
		Short: "Generate a VAPID key pair for web push",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			pub, priv, err := push.GenerateVAPIDKeys()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "DAOSTORE_VAPID_PUBLIC_KEY=%s\nDAOSTORE_VAPID_PRIVATE_KEY=%s\n", pub, priv)
			return nil
		},
	}
}
