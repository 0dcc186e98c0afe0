// Command booksctl runs one-off maintenance against the bookstore database and upload storage.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/manojkumarsharma/bookstore/config"
	"github.com/manojkumarsharma/bookstore/logging"
	"github.com/manojkumarsharma/bookstore/service"
	"github.com/manojkumarsharma/bookstore/store"
)

type app struct {
	cfg *config.Config
	log *logrus.Logger
	db  *store.DB
}

func main() {
	if err := newRootCmd(&app{}).Execute(); err != nil {
		os.Exit(1)
	}
}

// connect opens the database on first use so commands that never touch it work offline.
func (a *app) connect(ctx context.Context) (*store.DB, error) {
	if a.db != nil {
		return a.db, nil
	}
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	db, err := store.NewMongoDB(ctx, a.cfg.MongoURI, a.cfg.DBName, a.log)
	if err != nil {
		return nil, fmt.Errorf("connect to mongodb: %w", err)
	}
	a.db = db
	return db, nil
}

func (a *app) files(ctx context.Context) (service.FileStore, error) {
	if a.cfg.UploadDriver == "s3" {
		return service.NewS3Store(ctx, a.cfg.S3Bucket, a.cfg.S3Region, a.cfg.S3AccessKeyID, a.cfg.S3SecretKey, a.log)
	}
	return service.NewLocalStore(a.cfg.UploadDir, a.log)
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:          "booksctl",
		Short:        "Maintenance tasks for the bookstore database and uploads",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if a.cfg != nil {
				return nil
			}
			_ = godotenv.Load()
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			a.cfg = cfg
			a.log = logging.New(cfg)
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			if a.db == nil {
				return nil
			}
			return a.db.Disconnect(cmd.Context())
		},
	}
	root.AddCommand(slugsCmd(a), booksCmd(a), uploadsCmd(a), adminCmd(a))
	return root
}

func slugsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{Use: "slugs", Short: "Inspect and repair book slugs"}

	cmd.AddCommand(&cobra.Command{
		Use:   "check",
		Short: "Report books without a slug and slugs used more than once",
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, err := a.connect(cmd.Context())
			if err != nil {
				return err
			}
			missing, err := db.BooksMissingSlug(cmd.Context())
			if err != nil {
				return err
			}
			dups, err := db.DuplicateSlugs(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "books without slug: %d\n", len(missing))
			for _, b := range missing {
				fmt.Fprintf(out, "  %s  %s\n", b.ID.Hex(), b.Title)
			}
			fmt.Fprintf(out, "duplicated slugs: %d\n", len(dups))
			for _, d := range dups {
				fmt.Fprintf(out, "  %s (%d books)\n", d.Slug, d.Count)
			}
			if len(missing) > 0 || len(dups) > 0 {
				return errors.New("slug problems found; run `booksctl slugs backfill`")
			}
			return nil
		},
	})

	var dryRun bool
	backfill := &cobra.Command{
		Use:   "backfill",
		Short: "Give every book without a slug one derived from its title",
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, err := a.connect(cmd.Context())
			if err != nil {
				return err
			}
			books, err := db.BooksMissingSlug(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for i := range books {
				if dryRun {
					fmt.Fprintf(out, "would update %q\n", books[i].Title)
					continue
				}
				slug, err := db.SetBookSlug(cmd.Context(), &books[i])
				if err != nil {
					return fmt.Errorf("%s: %w", books[i].ID.Hex(), err)
				}
				fmt.Fprintf(out, "%q -> %s\n", books[i].Title, slug)
			}
			fmt.Fprintf(out, "%d books processed\n", len(books))
			return nil
		},
	}
	backfill.Flags().BoolVar(&dryRun, "dry-run", false, "only list the books that would change")
	cmd.AddCommand(backfill)
	return cmd
}

func booksCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{Use: "books", Short: "Catalog maintenance"}
	var yes bool
	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every book in the catalog",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !yes {
				return errors.New("refusing to delete the catalog without --yes")
			}
			db, err := a.connect(cmd.Context())
			if err != nil {
				return err
			}
			n, err := db.ClearBooks(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d books\n", n)
			return nil
		},
	}
	clearCmd.Flags().BoolVar(&yes, "yes", false, "confirm deleting all books")
	cmd.AddCommand(clearCmd)
	return cmd
}

func uploadsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{Use: "uploads", Short: "Upload storage maintenance"}
	var maxAge time.Duration
	cleanup := &cobra.Command{
		Use:   "cleanup",
		Short: "Remove temporary uploads older than --max-age",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if maxAge <= 0 {
				return errors.New("--max-age must be positive")
			}
			files, err := a.files(cmd.Context())
			if err != nil {
				return err
			}
			n, err := files.CleanupTemp(cmd.Context(), maxAge)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d temporary files cleaned up\n", n)
			return nil
		},
	}
	cleanup.Flags().DurationVar(&maxAge, "max-age", 24*time.Hour, "age after which temp files are removed")
	cmd.AddCommand(cleanup)
	return cmd
}

func adminCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{Use: "admin", Short: "Back-office accounts"}
	var name, email, password string
	seed := &cobra.Command{
		Use:   "seed",
		Short: "Create the default admin if no admin exists",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if name == "" {
				name = a.cfg.AdminName
			}
			if email == "" {
				email = a.cfg.AdminEmail
			}
			if password == "" {
				password = a.cfg.AdminPassword
			}
			db, err := a.connect(cmd.Context())
			if err != nil {
				return err
			}
			created, err := db.EnsureDefaultAdmin(cmd.Context(), name, email, password)
			if err != nil {
				return err
			}
			if created {
				fmt.Fprintf(cmd.OutOrStdout(), "admin %s created\n", email)
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), "an admin already exists; nothing to do")
			}
			return nil
		},
	}
	seed.Flags().StringVar(&name, "name", "", "admin name (default ADMIN_NAME)")
	seed.Flags().StringVar(&email, "email", "", "admin email (default ADMIN_EMAIL)")
	seed.Flags().StringVar(&password, "password", "", "admin password (default ADMIN_PASSWORD)")
	cmd.AddCommand(seed)
	return cmd
}
