package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/recordum/recordum/internal/recordsrv/audit"
	"github.com/recordum/recordum/internal/recordsrv/config"
	"github.com/recordum/recordum/internal/recordsrv/db"
	"github.com/recordum/recordum/internal/recordsrv/db/dberror"
	"github.com/recordum/recordum/internal/recordsrv/db/models"
	"github.com/recordum/recordum/internal/recordsrv/metadata"
	"github.com/recordum/recordum/internal/recordsrv/reccommon"
	"github.com/recordum/recordum/internal/recordsrv/workflow"
	"github.com/recordum/recordum/pkg/types"
)

var (
	configFile string
	tenantFlag string
	asSubject  string
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "recordsrv",
		Short:         "Administer the record platform",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configFile, "config", "", "path to the TOML config file")
	root.PersistentFlags().StringVar(&tenantFlag, "tenant", "", "tenant id to operate on")
	root.PersistentFlags().StringVar(&asSubject, "as", "admin", "acting subject")

	root.AddCommand(newInitTenantCmd())
	root.AddCommand(newApplyCmd())
	root.AddCommand(newPublishCmd())
	root.AddCommand(newQueueStatsCmd())
	root.AddCommand(newAuditPurgeCmd())
	return root
}

// opCtx loads config, opens the pool, and binds a store, tenant, and subject
// to the returned context. The caller must call the returned closer.
func opCtx(requireTenant bool) (context.Context, func(), error) {
	if err := config.LoadConfig(configFile); err != nil {
		return nil, nil, err
	}
	ctx := context.Background()
	if err := db.Init(ctx); err != nil {
		return nil, nil, err
	}
	ctx, err := db.ConnCtx(ctx)
	if err != nil {
		return nil, nil, err
	}
	closer := func() { db.DB(ctx).Close(ctx) }

	if requireTenant {
		if tenantFlag == "" {
			closer()
			return nil, nil, fmt.Errorf("--tenant is required")
		}
		ctx = reccommon.WithTenantID(ctx, types.TenantId(tenantFlag))
	}
	// admin operations run as the system identity when no subject is given
	if asSubject == "" {
		ctx = reccommon.WithSystemIdentity(ctx)
	} else {
		ctx = reccommon.WithSubject(ctx, types.Subject(asSubject))
	}
	return ctx, closer, nil
}

func newInitTenantCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "init-tenant",
		Short: "Create a tenant if it does not exist",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, closer, err := opCtx(true)
			if err != nil {
				return err
			}
			defer closer()

			tenant := &models.Tenant{TenantID: types.TenantId(tenantFlag), Name: name}
			if err := db.DB(ctx).CreateTenant(ctx, tenant); err != nil {
				if err.Is(dberror.ErrAlreadyExists) {
					fmt.Printf("tenant %s already exists\n", tenantFlag)
					return nil
				}
				return err
			}
			fmt.Printf("created tenant %s\n", tenantFlag)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "display name of the tenant")
	return cmd
}

func newApplyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "apply <manifest.yaml>...",
		Short: "Apply metadata manifests (YAML or JSON)",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, closer, err := opCtx(true)
			if err != nil {
				return err
			}
			defer closer()

			for _, path := range args {
				data, errR := os.ReadFile(path)
				if errR != nil {
					return errR
				}
				if err := metadata.ApplyManifest(ctx, data); err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}
				fmt.Printf("applied %s\n", path)
			}
			return nil
		},
	}
}

func newPublishCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "publish <entity>",
		Short: "Publish a new schema version for the entity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, closer, err := opCtx(true)
			if err != nil {
				return err
			}
			defer closer()

			schema, errP := metadata.PublishEntity(ctx, args[0])
			if errP != nil {
				return errP
			}
			fmt.Printf("published %s version %d (%d fields)\n", schema.EntityName, schema.Version, len(schema.Fields))
			return nil
		},
	}
}

func newQueueStatsCmd() *cobra.Command {
	var window int
	var partCount, partIndex int
	cmd := &cobra.Command{
		Use:   "queue-stats",
		Short: "Show workflow queue depth and active workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, closer, err := opCtx(false)
			if err != nil {
				return err
			}
			defer closer()

			var partition *models.QueuePartition
			if partCount > 0 {
				partition = &models.QueuePartition{Count: partCount, Index: partIndex}
			}
			stats, errS := workflow.Stats(ctx, window, partition)
			if errS != nil {
				return errS
			}
			fmt.Printf("pending=%d leased=%d completed=%d failed=%d active_workers=%d\n",
				stats.PendingJobs, stats.LeasedJobs, stats.CompletedJobs, stats.FailedJobs, stats.ActiveWorkers)
			return nil
		},
	}
	cmd.Flags().IntVar(&window, "active-window", 60, "seconds a worker heartbeat counts as active")
	cmd.Flags().IntVar(&partCount, "partition-count", 0, "partition count (0 = unpartitioned)")
	cmd.Flags().IntVar(&partIndex, "partition-index", 0, "partition index")
	return cmd
}

func newAuditPurgeCmd() *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "audit-purge",
		Short: "Delete audit events older than the retention horizon",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, closer, err := opCtx(true)
			if err != nil {
				return err
			}
			defer closer()

			if days <= 0 {
				days = config.Config().AuditRetentionDays
			}
			n, errP := audit.Purge(ctx, days)
			if errP != nil {
				return errP
			}
			fmt.Printf("purged %d audit events older than %d days\n", n, days)
			return nil
		},
	}
	cmd.Flags().IntVar(&days, "days", 0, "retention horizon in days (default from config)")
	return cmd
}
