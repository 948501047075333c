// Package ragctl implements the operator CLI: maintenance jobs, upload
// inspection and retries, inline processing and ad-hoc search.
package ragctl

import (
	"context"
	"errors"
	"time"

	"github.com/devstudio-tyler/company-on/internal/ingestion"
	"github.com/devstudio-tyler/company-on/internal/maintenance"
	"github.com/devstudio-tyler/company-on/internal/retrieval"
	"github.com/spf13/cobra"
)

type Jobs interface {
	RegenerateEmbeddings(ctx context.Context) (maintenance.Report, error)
	ReapStaleSessions(ctx context.Context, staleAfter time.Duration) (maintenance.Report, error)
	CleanupFailedUploads(ctx context.Context, olderThan time.Duration) (maintenance.Report, error)
	CleanupOrphanedChunks(ctx context.Context) (int64, error)
}

type Uploads interface {
	GetProcessingStatus(ctx context.Context, id string) (*ingestion.ProcessingStatus, error)
	RequestRetry(ctx context.Context, id string) (*ingestion.ProcessingStatus, error)
	List(ctx context.Context, status string, page, pageSize int) (*ingestion.ListResponse, error)
}

type Searcher interface {
	Search(ctx context.Context, query string, limit int, alpha, beta float64) (*retrieval.Response, error)
}

// Env is what the commands run against. Any field may be nil when the
// opener could not build it; commands that need it then fail.
type Env struct {
	Jobs     Jobs
	Uploads  Uploads
	Runner   ingestion.Runner
	Searcher Searcher
	Close    func()
}

// Opener builds an Env from the config file at path.
type Opener func(ctx context.Context, path string) (*Env, error)

var errNotConfigured = errors.New("not configured")

type app struct {
	open       Opener
	configPath string
	env        *Env
}

// NewRootCommand returns the ragctl command tree. The Env is opened once,
// before the first subcommand runs, and closed after it.
func NewRootCommand(open Opener) *cobra.Command {
	a := &app{open: open}
	root := &cobra.Command{
		Use:           "ragctl",
		Short:         "Operate the document ingestion and search platform",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			env, err := a.open(cmd.Context(), a.configPath)
			if err != nil {
				return err
			}
			a.env = env
			return nil
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if a.env != nil && a.env.Close != nil {
				a.env.Close()
			}
		},
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "configs/development.yaml", "path to config file")

	root.AddCommand(
		a.regenerateCmd(),
		a.reapStaleCmd(),
		a.cleanupFailedCmd(),
		a.cleanupOrphansCmd(),
		a.statusCmd(),
		a.listCmd(),
		a.retryCmd(),
		a.processCmd(),
		a.searchCmd(),
		a.loadtestCmd(),
	)
	return root
}

func printReport(cmd *cobra.Command, job string, r maintenance.Report) {
	cmd.Printf("%s: processed %d, succeeded %d, failed %d\n", job, r.Processed, r.Succeeded, r.Failed)
}
