package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/warp/bookkeeper/api"
	"github.com/warp/bookkeeper/backup"
	"github.com/warp/bookkeeper/ledger"
)

type setupFunc func() (*app, error)

// =============================================================================
// SERVE
// =============================================================================

func newServeCommand(v *viper.Viper, setup setupFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the recurring runner",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup()
			if err != nil {
				return err
			}
			defer a.close()
			return runServe(a)
		},
	}
	cmd.Flags().String("port", "", "HTTP server port")
	_ = v.BindPFlag("server.port", cmd.Flags().Lookup("port"))
	return cmd
}

func runServe(a *app) error {
	metrics := api.NewMetrics()
	handler := api.NewHandler(a.ledger, metrics)
	handler.DefaultCurrency = a.cfg.Defaults.Currency
	handler.Scheduler.MaxCatchUp = a.cfg.Recurring.MaxCatchUp
	handler.Runner.Enabled = a.cfg.Recurring.Enabled
	handler.Runner.CheckInterval = a.cfg.Recurring.Interval

	router := api.NewRouter(handler, a.cfg.Server.AllowedOrigins)

	server := &http.Server{
		Addr:         ":" + a.cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	handler.Runner.Start()
	defer handler.Runner.Stop()

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("server starting", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-serveErr:
		if err != nil {
			a.logger.Error("server failed", zap.Error(err))
			return err
		}
	case <-quit:
	}

	a.logger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		a.logger.Error("server forced to shutdown", zap.Error(err))
		return err
	}

	a.logger.Info("server stopped")
	return nil
}

// =============================================================================
// MAINTENANCE JOBS
// =============================================================================

func newProcessRecurringCommand(setup setupFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "process-recurring",
		Short: "Materialize every due recurring occurrence once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup()
			if err != nil {
				return err
			}
			defer a.close()

			sc := ledger.NewScheduler(a.ledger)
			sc.MaxCatchUp = a.cfg.Recurring.MaxCatchUp
			result, err := sc.ProcessAll(cmd.Context(), time.Now())
			fmt.Fprintf(cmd.OutOrStdout(), "materialized=%d advanced=%d failed=%d\n",
				len(result.Materialized), result.Advanced, result.Failed)
			return err
		},
	}
}

func newVerifyCommand(setup setupFunc) *cobra.Command {
	var owner string
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Recompute balances of an owner's books and report drift",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup()
			if err != nil {
				return err
			}
			defer a.close()

			ctx := cmd.Context()
			books, err := ledger.NewBooks(a.ledger).List(ctx, owner)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			var failed int
			for _, b := range books {
				drifts, err := a.ledger.VerifyBalances(ctx, b.ID)
				for _, d := range drifts {
					fmt.Fprintf(out, "%s\t%s\tstored=%s expected=%s\n", b.Name, d.Name, d.Stored, d.Expected)
				}
				if err != nil {
					fmt.Fprintf(out, "%s\t%v\n", b.Name, err)
				}
				if len(drifts) > 0 || err != nil {
					failed++
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d books failed verification", failed, len(books))
			}
			fmt.Fprintf(out, "%d books verified\n", len(books))
			return nil
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "owner whose books are verified (required)")
	_ = cmd.MarkFlagRequired("owner")
	return cmd
}

// =============================================================================
// BACKUP
// =============================================================================

func newExportCommand(setup setupFunc) *cobra.Command {
	var owner, output string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write an owner's backup document",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup()
			if err != nil {
				return err
			}
			defer a.close()

			doc, err := backup.Export(cmd.Context(), a.db, owner, time.Now())
			if err != nil {
				return err
			}
			if output == "" || output == "-" {
				return doc.Write(cmd.OutOrStdout())
			}
			f, err := os.Create(output)
			if err != nil {
				return fmt.Errorf("creating %s: %w", output, err)
			}
			if err := doc.Write(f); err != nil {
				f.Close()
				return err
			}
			return f.Close()
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "owner to export (required)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default stdout)")
	_ = cmd.MarkFlagRequired("owner")
	return cmd
}

func newImportCommand(setup setupFunc) *cobra.Command {
	var owner string
	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Restore a backup document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("opening %s: %w", args[0], err)
			}
			defer f.Close()
			doc, err := backup.Read(f)
			if err != nil {
				return err
			}

			a, err := setup()
			if err != nil {
				return err
			}
			defer a.close()

			report, err := backup.NewRestorer(a.ledger).Restore(cmd.Context(), doc, owner)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "books=%d accounts=%d categories=%d transactions=%d recurring=%d\n",
				len(report.Books), report.Accounts, report.Categories, report.Transactions, report.Recurring)
			for _, s := range report.Skipped {
				fmt.Fprintf(out, "skipped: %s\n", s)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "owner of the restored books (default: exported owner)")
	return cmd
}
