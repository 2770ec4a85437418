package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/hashstrat/dao-deployer/internal/bootstrap/orchestrator"
	"github.com/hashstrat/dao-deployer/internal/bootstrap/repository"
)

var statusCmd = &cobra.Command{
	Use:   "status [run-id]",
	Short: "Show deployment runs",
	Long: `List persisted deployment runs, or show one run with its transactions, the
LP token registrations as last recorded and, once completed, the deployed
addresses. Needs database.enabled.

Examples:
  dao-deployer status
  dao-deployer status 6f1c2b0e-... --json`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

type statusOutput struct {
	*repository.Run
	Transactions  []repository.Transaction    `json:"transactions"`
	Registrations []orchestrator.Registration `json:"registrations,omitempty"`
	Addresses     json.RawMessage             `json:"addresses,omitempty"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	if !cfg.Database.Enabled {
		return errors.New("status needs database.enabled: in-memory runs do not outlive the process")
	}
	ctx := cmd.Context()

	repo, closeRepo, err := openRepository(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer closeRepo()

	if len(args) == 0 {
		runs, err := repo.ListRuns(ctx)
		if err != nil {
			return fmt.Errorf("list runs: %w", err)
		}
		if jsonOut {
			return printJSON(runs)
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNETWORK\tSTATUS\tSTAGE\tUPDATED")
		for _, r := range runs {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", r.ID, r.Network, r.Status, deref(r.CurrentStage), r.UpdatedAt.Format(time.RFC3339))
		}
		return w.Flush()
	}

	id, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid run ID %q: %w", args[0], err)
	}
	out, err := loadStatus(ctx, repo, id)
	if err != nil {
		return err
	}
	if jsonOut {
		return printJSON(out)
	}
	return printStatus(os.Stdout, out)
}

// loadStatus collects a run with its transactions, the registrations from
// its last snapshot and, once completed, its addresses.
func loadStatus(ctx context.Context, repo repository.Repository, id uuid.UUID) (*statusOutput, error) {
	run, err := repo.GetRun(ctx, id)
	if err != nil {
		return nil, err
	}
	txs, err := repo.GetTransactionsByRun(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get transactions: %w", err)
	}
	out := &statusOutput{Run: run, Transactions: txs}

	snap, err := orchestrator.LoadSnapshot(ctx, repo, id)
	if err != nil {
		return nil, err
	}
	if snap != nil {
		out.Registrations = snap.Registrations
	}

	if a, err := repo.GetArtifact(ctx, id, "addresses"); err == nil && a != nil {
		out.Addresses = a.Content
	} else if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("get addresses: %w", err)
	}
	return out, nil
}

func printStatus(w io.Writer, out *statusOutput) error {
	run := out.Run
	fmt.Fprintf(w, "Run:      %s\n", run.ID)
	fmt.Fprintf(w, "Network:  %s (chain %d)\n", run.Network, run.ChainID)
	fmt.Fprintf(w, "Deployer: %s\n", run.Deployer)
	fmt.Fprintf(w, "Status:   %s\n", run.Status)
	fmt.Fprintf(w, "Stage:    %s\n", deref(run.CurrentStage))
	if run.ErrorMessage != nil {
		fmt.Fprintf(w, "Error:    %s\n", *run.ErrorMessage)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	if len(out.Transactions) > 0 {
		fmt.Fprintln(tw, "\nTransactions:")
		for _, tx := range out.Transactions {
			fmt.Fprintf(tw, "  %s\t%s.%s\t%s\t%d\n", tx.Stage, tx.Contract, tx.Method, tx.TxHash, tx.BlockNumber)
		}
	}
	if len(out.Registrations) > 0 {
		fmt.Fprintln(tw, "\nRegistrations (as last recorded):")
		for _, r := range out.Registrations {
			fmt.Fprintf(tw, "  %s\t%s\t%s\t%d\t%s\n", r.LPToken.Hex(), r.State, r.TxHash.Hex(), r.Attempts, r.Error)
		}
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if out.Addresses != nil {
		fmt.Fprintf(w, "\nAddresses:\n%s\n", out.Addresses)
	}
	return nil
}

func deref(s *string) string {
	if s == nil {
		return "-"
	}
	return *s
}
