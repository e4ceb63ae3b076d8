package cmd

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/spf13/cobra"

	"github.com/clipforge/clipforge/pkg/batch"
	"github.com/clipforge/clipforge/pkg/clients"
	"github.com/clipforge/clipforge/pkg/costs"
	"github.com/clipforge/clipforge/pkg/credits"
	"github.com/clipforge/clipforge/pkg/metrics"
	"github.com/clipforge/clipforge/pkg/models"
	"github.com/clipforge/clipforge/pkg/pipeline"
	"github.com/clipforge/clipforge/pkg/shutdown"
	"github.com/clipforge/clipforge/pkg/steps"
	"github.com/clipforge/clipforge/pkg/worker"
)

var (
	listenAddr      string
	concurrency     int
	pollInterval    time.Duration
	workDir         string
	batchSize       int
	refundThreshold string
	stubProviders   bool
)

// workCmd represents the work command
var workCmd = &cobra.Command{
	Use:   "work",
	Short: "Run the pipeline worker",
	Long:  `Claim queued and resumable jobs from the store and drive them through the video-generation pipeline. Exposes /healthz and /metrics while running.`,
	RunE:  runWork,
}

func init() {
	rootCmd.AddCommand(workCmd)

	workCmd.Flags().StringVar(&listenAddr, "listen", ":9090", "observability HTTP listen address")
	workCmd.Flags().IntVar(&concurrency, "concurrency", 1, "jobs to run in parallel")
	workCmd.Flags().DurationVar(&pollInterval, "poll-interval", 2*time.Second, "idle queue poll interval")
	workCmd.Flags().StringVar(&workDir, "workdir", "work", "scratch directory for per-job files")
	workCmd.Flags().IntVar(&batchSize, "batch-size", 3, "concurrent image generations per batch")
	workCmd.Flags().StringVar(&refundThreshold, "refund-threshold", string(models.JobStatusImageGen),
		"failures strictly before this stage refund reserved credits")
	workCmd.Flags().BoolVar(&stubProviders, "stub-providers", true,
		"use the built-in provider stubs instead of live APIs")
}

func runWork(cmd *cobra.Command, args []string) error {
	log := newLogger()

	st, err := openStore()
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}

	pricing, err := costs.LoadPricing(pricesFile)
	if err != nil {
		// stale prices beat a dead worker
		log.Warn("using default pricing", map[string]interface{}{"error": err.Error()})
	}

	if !stubProviders {
		return fmt.Errorf("live provider wiring is deployment-specific; run with --stub-providers")
	}
	bundle, _, _, _, _, _, _, _ := clients.NewFakeBundle()

	exporter := metrics.NewExporter(st)
	batchConfig := batch.DefaultConfig()
	if batchSize > 0 {
		batchConfig.BatchSize = batchSize
	}

	runner, err := pipeline.NewRunner(pipeline.RunnerConfig{
		Store:    st,
		Clients:  bundle,
		Steps:    steps.Build(bundle),
		Policy:   credits.Policy{RefundThreshold: models.JobStatus(refundThreshold)},
		Pricing:  pricing,
		Batch:    batchConfig,
		WorkDir:  workDir,
		Logger:   log,
		Exporter: exporter,
	})
	if err != nil {
		return fmt.Errorf("failed to build runner: %w", err)
	}

	w := worker.New(st, runner, log, worker.Config{
		Concurrency:  concurrency,
		PollInterval: pollInterval,
	})

	router := mux.NewRouter()
	router.Handle("/metrics", exporter.Handler()).Methods("GET")
	router.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		if err := st.HealthCheck(); err != nil {
			http.Error(rw, err.Error(), http.StatusServiceUnavailable)
			return
		}
		rw.WriteHeader(http.StatusOK)
		rw.Write([]byte("ok"))
	}).Methods("GET")

	server := &http.Server{
		Addr:         listenAddr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	go func() {
		log.Info("observability server listening", map[string]interface{}{"addr": listenAddr})
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("observability server failed", map[string]interface{}{"error": err.Error()})
		}
	}()

	sd := shutdown.New(30 * time.Second)
	ctx, cancel := context.WithCancel(context.Background())

	workerDone := make(chan error, 1)
	go func() { workerDone <- w.Run(ctx) }()

	sd.Register(shutdown.CloseResource(st, "store"))
	sd.Register(shutdown.StopHTTPServer(server, "observability"))
	sd.Register(func(ctx context.Context) error {
		cancel()
		select {
		case err := <-workerDone:
			return err
		case <-ctx.Done():
			return fmt.Errorf("worker did not stop in time: %w", ctx.Err())
		}
	})

	sd.Wait()
	return nil
}
