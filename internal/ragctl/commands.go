package ragctl

import (
	"fmt"
	"strings"
	"time"

	"github.com/devstudio-tyler/company-on/internal/ingestion"
	"github.com/devstudio-tyler/company-on/internal/maintenance"
	apperrors "github.com/devstudio-tyler/company-on/pkg/errors"
	"github.com/spf13/cobra"
)

func (a *app) jobs() (Jobs, error) {
	if a.env == nil || a.env.Jobs == nil {
		return nil, fmt.Errorf("maintenance jobs: %w", errNotConfigured)
	}
	return a.env.Jobs, nil
}

func (a *app) uploads() (Uploads, error) {
	if a.env == nil || a.env.Uploads == nil {
		return nil, fmt.Errorf("upload service: %w", errNotConfigured)
	}
	return a.env.Uploads, nil
}

func (a *app) regenerateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "regenerate-embeddings",
		Short: "Re-embed every stored chunk with the configured model",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			jobs, err := a.jobs()
			if err != nil {
				return err
			}
			report, err := jobs.RegenerateEmbeddings(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to regenerate embeddings: %w", err)
			}
			printReport(cmd, "regenerate-embeddings", report)
			return nil
		},
	}
}

func (a *app) reapStaleCmd() *cobra.Command {
	var staleAfter time.Duration
	cmd := &cobra.Command{
		Use:   "reap-stale",
		Short: "Fail processing uploads that stopped reporting progress",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			jobs, err := a.jobs()
			if err != nil {
				return err
			}
			report, err := jobs.ReapStaleSessions(cmd.Context(), staleAfter)
			if err != nil {
				return fmt.Errorf("failed to reap stale uploads: %w", err)
			}
			printReport(cmd, "reap-stale", report)
			return nil
		},
	}
	cmd.Flags().DurationVar(&staleAfter, "stale-after", maintenance.DefaultStaleAfter, "age of the last progress update after which a run is stale")
	return cmd
}

func (a *app) cleanupFailedCmd() *cobra.Command {
	var olderThan time.Duration
	cmd := &cobra.Command{
		Use:   "cleanup-failed",
		Short: "Delete failed uploads, their files and partial documents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			jobs, err := a.jobs()
			if err != nil {
				return err
			}
			report, err := jobs.CleanupFailedUploads(cmd.Context(), olderThan)
			if err != nil {
				return fmt.Errorf("failed to clean up failed uploads: %w", err)
			}
			printReport(cmd, "cleanup-failed", report)
			return nil
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", maintenance.DefaultFailedRetention, "only remove uploads created before this long ago")
	return cmd
}

func (a *app) cleanupOrphansCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup-orphans",
		Short: "Delete chunks whose document no longer exists",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			jobs, err := a.jobs()
			if err != nil {
				return err
			}
			n, err := jobs.CleanupOrphanedChunks(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to clean up orphaned chunks: %w", err)
			}
			cmd.Printf("cleanup-orphans: removed %d chunks\n", n)
			return nil
		},
	}
}

func (a *app) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status [upload-id]",
		Short: "Show an upload's processing status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			uploads, err := a.uploads()
			if err != nil {
				return err
			}
			st, err := uploads.GetProcessingStatus(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("failed to get status: %w", err)
			}
			printStatus(cmd, st)
			return nil
		},
	}
}

func (a *app) listCmd() *cobra.Command {
	var (
		status   string
		page     int
		pageSize int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List uploads, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			uploads, err := a.uploads()
			if err != nil {
				return err
			}
			resp, err := uploads.List(cmd.Context(), status, page, pageSize)
			if err != nil {
				return fmt.Errorf("failed to list uploads: %w", err)
			}
			if len(resp.Uploads) == 0 {
				cmd.Println("No uploads found")
				return nil
			}
			for _, st := range resp.Uploads {
				cmd.Printf("  %s  %-10s  %s\n", st.UploadID, st.Status, st.Filename)
			}
			cmd.Printf("\nPage %d, %d of %d uploads\n", resp.Page, len(resp.Uploads), resp.Total)
			return nil
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "only uploads in this status")
	cmd.Flags().IntVar(&page, "page", 1, "page number")
	cmd.Flags().IntVar(&pageSize, "page-size", 20, "uploads per page")
	return cmd
}

func (a *app) retryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "retry [upload-id]",
		Short: "Re-dispatch a retryable failed upload",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			uploads, err := a.uploads()
			if err != nil {
				return err
			}
			st, err := uploads.RequestRetry(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("failed to retry upload: %w", err)
			}
			printStatus(cmd, st)
			return nil
		},
	}
}

func (a *app) processCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "process [upload-id]",
		Short: "Run the pipeline for one upload in this process",
		Long:  `Runs download, parse, chunk, embed and persist inline, bypassing the task queue. The upload must be pending, or processing with a stale run.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.env == nil || a.env.Runner == nil {
				return fmt.Errorf("pipeline: %w", errNotConfigured)
			}
			res, err := a.env.Runner.Run(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("processing failed: %w", err)
			}
			cmd.Printf("Upload %s completed\n", res.UploadID)
			cmd.Printf("  Document: %d\n", res.DocumentID)
			cmd.Printf("  Chunks:   %d\n", res.Chunks)
			cmd.Printf("  Tokens:   %d\n", res.TokenCount)
			cmd.Printf("  Took:     %s\n", res.Duration.Round(time.Millisecond))
			return nil
		},
	}
}

func (a *app) searchCmd() *cobra.Command {
	var (
		limit int
		alpha float64
		beta  float64
	)
	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Run a hybrid search and print the ranked chunks",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.env == nil || a.env.Searcher == nil {
				return fmt.Errorf("search engine: %w", errNotConfigured)
			}
			resp, err := a.env.Searcher.Search(cmd.Context(), strings.Join(args, " "), limit, alpha, beta)
			if err != nil {
				return fmt.Errorf("search failed: %w", err)
			}
			cmd.Printf("%d results (%s)\n\n", resp.Total, resp.Mode)
			for i, r := range resp.Results {
				cmd.Printf("%d. chunk %d, document %d, score %.3f\n", i+1, r.ChunkID, r.DocumentID, r.CombinedScore)
				cmd.Printf("   %s\n", snippet(r.Text, 160))
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 5, "number of results")
	cmd.Flags().Float64Var(&alpha, "alpha", 0.7, "vector score weight")
	cmd.Flags().Float64Var(&beta, "beta", 0.3, "keyword score weight")
	return cmd
}

func printStatus(cmd *cobra.Command, st *ingestion.ProcessingStatus) {
	cmd.Printf("Upload: %s\n\n", st.UploadID)
	cmd.Printf("  File:      %s\n", st.Filename)
	cmd.Printf("  Status:    %s\n", st.Status)
	if st.DocumentID != nil {
		cmd.Printf("  Document:  %d\n", *st.DocumentID)
	}
	if st.ErrorMessage != "" {
		cmd.Printf("  Message:   %s\n", st.ErrorMessage)
	}
	if st.FailureClass != "" && st.FailureClass != apperrors.ClassNone {
		cmd.Printf("  Failure:   %s\n", st.FailureClass)
	}
	cmd.Printf("  Retryable: %t\n", st.Retryable)
	cmd.Printf("  Updated:   %s\n", st.UpdatedAt.Format("2006-01-02 15:04:05"))
}

func snippet(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
