package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/recordum/recordum/internal/common/logtrace"
	"github.com/recordum/recordum/internal/recordsrv/config"
	"github.com/recordum/recordum/internal/recordsrv/db"
	"github.com/recordum/recordum/internal/recordsrv/db/models"
	"github.com/recordum/recordum/internal/recordsrv/runtime"
	"github.com/recordum/recordum/internal/recordsrv/workflow"
)

func init() {
	logtrace.InitLogger("recordworker")
}

func main() {
	var configFile string
	var partCount, partIndex int

	cmd := &cobra.Command{
		Use:           "recordworker",
		Short:         "Drain the workflow execution queue",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.LoadConfig(configFile); err != nil {
				return err
			}
			if partCount > 0 && (partIndex < 0 || partIndex >= partCount) {
				return fmt.Errorf("partition index %d out of range for count %d", partIndex, partCount)
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := db.Init(ctx); err != nil {
				return err
			}
			ctx, err := db.ConnCtx(ctx)
			if err != nil {
				return err
			}
			defer db.DB(ctx).Close(ctx)

			// queued runs can create records, which in turn dispatch more runs
			runtime.SetDispatcher(&workflow.Dispatcher{Mode: workflow.ModeQueued})

			var partition *models.QueuePartition
			if partCount > 0 {
				partition = &models.QueuePartition{Count: partCount, Index: partIndex}
			}
			worker := workflow.NewWorker(partition)
			log.Ctx(ctx).Info().
				Str("worker_id", worker.ID).
				Int("partition_count", partCount).
				Int("partition_index", partIndex).
				Msg("starting queue worker")
			worker.Run(ctx)
			return nil
		},
	}
	cmd.Flags().StringVar(&configFile, "config", "", "path to the TOML config file")
	cmd.Flags().IntVar(&partCount, "partition-count", 0, "partition count (0 = unpartitioned)")
	cmd.Flags().IntVar(&partIndex, "partition-index", 0, "partition index")

	if err := cmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
