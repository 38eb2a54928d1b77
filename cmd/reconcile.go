package cmd

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"zoopixie/src/log"
	"zoopixie/src/novita"
	"zoopixie/src/storage/postgres/videoctrl"
)

// reconcileCmd represents the reconcile command
var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Resolve stale generation tasks by querying the provider directly",
	Long: `The reconcile command finds records stuck in a non-terminal state whose
webhook never arrived, asks the provider for the task result, and applies
terminal outcomes through the same guarded update the webhook uses.`,
	RunE: runReconcile,
}

func init() {
	rootCmd.AddCommand(reconcileCmd)
	reconcileCmd.Flags().Duration("older-than", 10*time.Minute, "only reconcile tasks older than this")
}

func runReconcile(cmd *cobra.Command, args []string) error {
	olderThan, _ := cmd.Flags().GetDuration("older-than")
	ctx := context.Background()

	// Initialize PostgreSQL connection
	dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable",
		viper.GetString("postgres.host"),
		viper.GetString("postgres.user"),
		viper.GetString("postgres.password"),
		viper.GetString("postgres.db"),
		viper.GetString("postgres.port"))
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying *sql.DB: %v", err)
	}
	defer sqlDB.Close()

	// Initialize VideoService
	videoService, err := videoctrl.NewVideoService(db)
	if err != nil {
		return fmt.Errorf("failed to initialize video service: %v", err)
	}

	// Initialize the provider client
	novitaClient := novita.NewClient(
		viper.GetString("novita.url"),
		viper.GetString("novita.api_key"),
		viper.GetString("novita.model"),
		&http.Client{Timeout: 30 * time.Second},
	)

	stale, err := videoService.ListStale(ctx, time.Now().Add(-olderThan))
	if err != nil {
		return fmt.Errorf("failed to list stale tasks: %v", err)
	}
	if len(stale) == 0 {
		fmt.Println("No stale tasks to reconcile")
		return nil
	}

	bar := progressbar.Default(int64(len(stale)), "reconciling")

	resolved := 0
	for _, video := range stale {
		bar.Add(1)

		result, err := novitaClient.TaskResult(ctx, video.TaskID)
		if err != nil {
			log.Error(err, "failed to query provider for task", "task_id", video.TaskID)
			continue
		}

		if !videoctrl.IsTerminal(result.Task.Status) {
			// Still running provider-side, leave it for the next pass.
			continue
		}

		videoURL := ""
		if len(result.Videos) > 0 {
			videoURL = result.Videos[0].VideoURL
		}

		applied, err := videoService.ApplyResult(ctx, video.TaskID, result.Task.Status, videoURL, result.Task.Reason)
		if err != nil {
			log.Error(err, "failed to apply task result", "task_id", video.TaskID)
			continue
		}
		if applied {
			resolved++
		}
	}

	fmt.Printf("Reconciled %d of %d stale tasks\n", resolved, len(stale))
	return nil
}
