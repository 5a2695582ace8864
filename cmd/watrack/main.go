package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ageentiq/watrack/internal/httpapi"
	"github.com/ageentiq/watrack/internal/metrics"
	"github.com/ageentiq/watrack/internal/watrack"
)

func main() {
	log.SetOutput(os.Stderr)

	rootCmd := &cobra.Command{
		Use:          "watrack",
		Short:        "WhatsApp delivery-status reconciliation over n8n execution history",
		Long:         "watrack scans a WhatsApp sender workflow's execution history, reconciles delivery callbacks per message, and optionally persists the result.",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().String("env-file", ".env", "env file merged into the environment before loading config")
	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		envFile, _ := cmd.Flags().GetString("env-file")
		return watrack.LoadDotenv(envFile)
	}

	rootCmd.AddCommand(newTrackCommand())
	rootCmd.AddCommand(newListCommand())
	rootCmd.AddCommand(newRetryFailedCommand())
	rootCmd.AddCommand(newServeCommand())
	rootCmd.AddCommand(newDiagCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newTrackCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "track <waId> <messageId>",
		Short: "Resolve the latest delivery status of one message",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := watrack.LoadConfig(nil)
			if err != nil {
				return err
			}
			limit, _ := cmd.Flags().GetInt("limit")
			since, _ := cmd.Flags().GetInt64("since")
			save, _ := cmd.Flags().GetBool("save")

			scanner := watrack.NewScanner(watrack.NewClientFromConfig(cfg), cfg.WorkflowID)
			result, err := scanner.TrackMessage(cmd.Context(), args[0], args[1], watrack.TrackOptions{Limit: limit, Since: since})
			if err != nil {
				return err
			}
			if save {
				if err := saveRecords(cmd.Context(), cfg, []watrack.MessageStatusRecord{watrack.RecordFromTrackResult(result)}); err != nil {
					return err
				}
			}
			return printJSON(result)
		},
	}
	cmd.Flags().Int("limit", 0, "max executions to scan (default 200)")
	cmd.Flags().Int64("since", 0, "ignore status events older than this unix timestamp")
	cmd.Flags().Bool("save", false, "persist the result to the configured store")
	return cmd
}

func newListCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list [waId]",
		Short: "List recent messages and their reconciled statuses",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := watrack.LoadConfig(nil)
			if err != nil {
				return err
			}
			waID := ""
			if len(args) == 1 {
				waID = args[0]
			}
			limit, _ := cmd.Flags().GetInt("limit")
			maxMessages, _ := cmd.Flags().GetInt("max-messages")
			since, _ := cmd.Flags().GetInt64("since")
			save, _ := cmd.Flags().GetBool("save")

			scanner := watrack.NewScanner(watrack.NewClientFromConfig(cfg), cfg.WorkflowID)
			result, err := scanner.ListRecentMessages(cmd.Context(), waID, watrack.ListOptions{
				Limit:       limit,
				MaxMessages: maxMessages,
				Since:       since,
			})
			if err != nil {
				return err
			}
			if save {
				if err := saveRecords(cmd.Context(), cfg, result.Messages); err != nil {
					return err
				}
			}
			return printJSON(result)
		},
	}
	cmd.Flags().Int("limit", 0, "max executions to scan (default 200)")
	cmd.Flags().Int("max-messages", 0, "max messages to report (default 10)")
	cmd.Flags().Int64("since", 0, "ignore status events older than this unix timestamp")
	cmd.Flags().Bool("save", false, "persist results to the configured store")
	return cmd
}

func newRetryFailedCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "retry-failed [workflowId...]",
		Short: "Replay failed executions of one or more workflows",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := watrack.LoadConfig(nil)
			if err != nil {
				return err
			}
			pageLimit, _ := cmd.Flags().GetInt("page-limit")
			maxExecutions, _ := cmd.Flags().GetInt("max")
			loadWorkflow, _ := cmd.Flags().GetBool("load-workflow")
			sleepBetween, _ := cmd.Flags().GetDuration("sleep")

			workflowIDs := args
			if len(workflowIDs) == 0 {
				workflowIDs = []string{cfg.WorkflowID}
			}
			client := watrack.NewClientFromConfig(cfg)
			summaries := map[string]watrack.RetrySummary{}
			for _, workflowID := range workflowIDs {
				summary, err := client.RetryFailedExecutions(cmd.Context(), workflowID, watrack.RetryFailedOptions{
					PageLimit:     pageLimit,
					MaxExecutions: maxExecutions,
					LoadWorkflow:  loadWorkflow,
					SleepBetween:  sleepBetween,
				})
				if err != nil {
					return err
				}
				summaries[workflowID] = summary
			}
			return printJSON(summaries)
		},
	}
	cmd.Flags().Int("page-limit", 0, "page size when listing failed executions (default 100)")
	cmd.Flags().Int("max", 0, "max executions to retry (0 = all)")
	cmd.Flags().Bool("load-workflow", true, "ask the server to reload the current workflow definition")
	cmd.Flags().Duration("sleep", 500*time.Millisecond, "pause between retries")
	return cmd
}

func newServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the scan loop and HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			envFile, _ := cmd.Flags().GetString("env-file")
			addr, _ := cmd.Flags().GetString("addr")
			interval, _ := cmd.Flags().GetDuration("interval")
			limit, _ := cmd.Flags().GetInt("limit")
			maxMessages, _ := cmd.Flags().GetInt("max-messages")
			return runServe(cmd.Context(), envFile, addr, interval, limit, maxMessages)
		},
	}
	cmd.Flags().String("addr", envOr("WATRACK_ADDR", ":8080"), "listen address")
	cmd.Flags().Duration("interval", time.Minute, "delay between bulk scans")
	cmd.Flags().Int("limit", 0, "max executions per scan (default 200)")
	cmd.Flags().Int("max-messages", 100, "max messages persisted per scan")
	return cmd
}

func runServe(ctx context.Context, envFile, addr string, interval time.Duration, limit, maxMessages int) error {
	lookup, err := watrack.FileThenEnv(envFile)
	if err != nil {
		if !os.IsNotExist(err) {
			return err
		}
		lookup = nil
	}
	cfg, err := watrack.LoadConfig(lookup)
	if err != nil {
		return err
	}
	store, err := watrack.BuildStatusStoreFromDSN(cfg.StoreDSN)
	if err != nil {
		return err
	}
	if store == nil {
		store = watrack.NewInMemoryStatusStore()
		log.Printf("[info] no store DSN configured, using in-memory store")
	}
	defer store.Close()

	metrics.Register()

	client := watrack.NewClientFromConfig(cfg)
	runner := watrack.NewRunner(watrack.RunnerOptions{
		Scanner:  watrack.NewScanner(client, cfg.WorkflowID),
		Store:    store,
		Interval: interval,
		ListOpts: watrack.ListOptions{Limit: limit, MaxMessages: maxMessages},
	})
	server := httpapi.NewServer(runner, store, httpapi.ServerConfig{
		APIKey: os.Getenv("WATRACK_API_KEY"),
	})
	runner.SetOnChange(server.NotifyChange)

	// Credential rotation: re-read the env file and swap the scanner in place.
	stopWatch, err := watrack.WatchConfigFile(envFile, func() {
		reloaded, loadErr := watrack.FileThenEnv(envFile)
		if loadErr != nil {
			log.Printf("[warn] reload failed: %v", loadErr)
			return
		}
		newCfg, cfgErr := watrack.LoadConfig(reloaded)
		if cfgErr != nil {
			log.Printf("[warn] reload rejected: %v", cfgErr)
			return
		}
		runner.SetScanner(watrack.NewScanner(watrack.NewClientFromConfig(newCfg), newCfg.WorkflowID))
		log.Printf("[info] configuration reloaded")
	})
	if err != nil {
		log.Printf("[warn] config watch unavailable: %v", err)
	} else {
		defer stopWatch()
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		if runErr := runner.Run(ctx); runErr != nil && ctx.Err() == nil {
			log.Printf("[error] scan loop stopped: %v", runErr)
		}
	}()

	httpServer := &http.Server{Addr: addr, Handler: server}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	log.Printf("watrack listening on %s", addr)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func newDiagCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "diag",
		Short: "Check connectivity to the n8n API and the store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := watrack.LoadConfig(nil)
			if err != nil {
				return err
			}
			report := map[string]any{
				"baseUrl":    cfg.BaseURL,
				"apiPrefix":  cfg.APIPrefix,
				"workflowId": cfg.WorkflowID,
				"authMode":   authMode(cfg),
			}

			client := watrack.NewClientFromConfig(cfg)
			page, err := client.FetchExecutionsPage(cmd.Context(), cfg.WorkflowID, 1, "")
			if err != nil {
				report["api"] = fmt.Sprintf("error: %v", err)
			} else {
				report["api"] = fmt.Sprintf("ok (%d execution(s) on first page)", len(page.Executions))
			}

			if cfg.StoreDSN == "" {
				report["store"] = "not configured"
			} else {
				store, storeErr := watrack.BuildStatusStoreFromDSN(cfg.StoreDSN)
				if storeErr != nil {
					report["store"] = fmt.Sprintf("error: %v", storeErr)
				} else {
					counts, countErr := store.CountByStatus(cmd.Context())
					if countErr != nil {
						report["store"] = fmt.Sprintf("error: %v", countErr)
					} else {
						report["store"] = "ok"
						report["statusCounts"] = counts
					}
					_ = store.Close()
				}
			}
			return printJSON(report)
		},
	}
}

func saveRecords(ctx context.Context, cfg watrack.Config, records []watrack.MessageStatusRecord) error {
	store, err := watrack.BuildStatusStoreFromDSN(cfg.StoreDSN)
	if err != nil {
		return err
	}
	if store == nil {
		return fmt.Errorf("--save requires WATRACK_STORE_DSN: %w", watrack.ErrMissingConfig)
	}
	defer store.Close()
	stats := watrack.UpsertMessages(ctx, store, cfg.WorkflowID, records)
	log.Printf("[info] saved: inserted=%d updated=%d unchanged=%d failed=%d",
		stats.Inserted, stats.Updated, stats.Unchanged, stats.Failed)
	return nil
}

func authMode(cfg watrack.Config) string {
	switch {
	case cfg.APIKey != "":
		return "api-key"
	case cfg.BasicUser != "":
		return "basic"
	default:
		return "none"
	}
}

func printJSON(v any) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

func envOr(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}
