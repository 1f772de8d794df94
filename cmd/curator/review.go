package main

import (
	"fmt"
	"os"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/curatorhq/curator/internal/approval"
	"github.com/curatorhq/curator/internal/cli"
	"github.com/curatorhq/curator/internal/model"
	"github.com/curatorhq/curator/internal/refinement"
)

func approveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "approve <proposal-id>",
		Short: "Approve a proposal and apply its change",
		Args:  cobra.ExactArgs(1),
		RunE:  runApprove,
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "batch <batch-id>",
		Short: "Approve and apply every pending proposal in a batch",
		Args:  cobra.ExactArgs(1),
		RunE:  runApproveBatch,
	})

	return cmd
}

func rejectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reject <proposal-id>",
		Short: "Reject a proposal without applying it",
		Args:  cobra.ExactArgs(1),
		RunE:  runReject,
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "batch <batch-id>",
		Short: "Reject every pending proposal in a batch",
		Args:  cobra.ExactArgs(1),
		RunE:  runRejectBatch,
	})

	return cmd
}

func refineCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "refine <proposal-id>",
		Short: "Revise a pending proposal's draft with a reviewer comment",
		Long: `Refine sends the proposal's current draft and the reviewer's comment to
the reasoning service and replaces the draft with the revised version.
The proposal stays pending; approve it once the draft looks right.`,
		Args: cobra.ExactArgs(1),
		RunE: runRefine,
	}

	cmd.Flags().String("comment", "", "reviewer guidance for the revision (required)")
	_ = cmd.MarkFlagRequired("comment")

	return cmd
}

func newApprovalWorkflow(cmd *cobra.Command) (*approval.Workflow, func(), error) {
	store, err := initStorage(cmd.Context())
	if err != nil {
		return nil, nil, err
	}

	normalizer := model.Normalizer{SortTokens: sortTokensEnabled()}
	workflow := approval.New(store, ownerLocks, normalizer)

	return workflow, func() { store.Close() }, nil
}

func runApprove(cmd *cobra.Command, args []string) error {
	workflow, cleanup, err := newApprovalWorkflow(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	proposal, batch, err := workflow.ApproveProposal(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("failed to approve proposal: %w", err)
	}

	fmt.Println(cli.FormatSuccess(fmt.Sprintf(
		"Approved and applied %s proposal %s", proposal.Operation, proposal.ID)))
	fmt.Printf("Batch %s is now %s (%d/%d reviewed)\n",
		batch.ID, batch.Status, batch.Resolved(), batch.ProposalCount)

	return nil
}

func runReject(cmd *cobra.Command, args []string) error {
	workflow, cleanup, err := newApprovalWorkflow(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	proposal, batch, err := workflow.RejectProposal(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("failed to reject proposal: %w", err)
	}

	fmt.Println(cli.FormatSuccess(fmt.Sprintf(
		"Rejected %s proposal %s", proposal.Operation, proposal.ID)))
	fmt.Printf("Batch %s is now %s (%d/%d reviewed)\n",
		batch.ID, batch.Status, batch.Resolved(), batch.ProposalCount)

	return nil
}

func runApproveBatch(cmd *cobra.Command, args []string) error {
	return runResolveBatch(cmd, args[0], true)
}

func runRejectBatch(cmd *cobra.Command, args []string) error {
	return runResolveBatch(cmd, args[0], false)
}

func runResolveBatch(cmd *cobra.Command, batchID string, approve bool) error {
	workflow, cleanup, err := newApprovalWorkflow(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	verb := "Rejecting"
	if approve {
		verb = "Approving"
	}

	var bar *progressbar.ProgressBar
	onProgress := func(done, total int) {
		if bar == nil {
			bar = newReviewProgressBar(total, verb)
		}
		_ = bar.Set(done)
	}

	var batch *model.Batch
	if approve {
		batch, err = workflow.ApproveBatch(cmd.Context(), batchID, onProgress)
	} else {
		batch, err = workflow.RejectBatch(cmd.Context(), batchID, onProgress)
	}
	if bar != nil {
		_ = bar.Finish()
		fmt.Println()
	}
	if err != nil {
		return fmt.Errorf("failed to resolve batch: %w", err)
	}

	fmt.Println(cli.FormatSuccess(fmt.Sprintf(
		"Batch %s is now %s (%d approved, %d rejected, %d applied)",
		batch.ID, batch.Status, batch.ApprovedCount, batch.RejectedCount, batch.AppliedCount)))

	return nil
}

func newReviewProgressBar(total int, verb string) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowCount(),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetDescription(fmt.Sprintf("[cyan][bold]%s proposals...[reset]", verb)),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "[green]=[reset]",
			SaucerHead:    "[green]>[reset]",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}))
}

func runRefine(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	comment, _ := cmd.Flags().GetString("comment")

	store, err := initStorage(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	reasoner, err := initReasoner()
	if err != nil {
		return err
	}

	workflow := refinement.New(store, reasoner)

	proposal, err := workflow.Refine(ctx, args[0], comment)
	if err != nil {
		return fmt.Errorf("failed to refine proposal: %w", err)
	}

	fmt.Println(cli.FormatSuccess(fmt.Sprintf(
		"Refined proposal %s (revision %d)", proposal.ID, proposal.Revision)))
	fmt.Println(cli.RenderProposals([]model.Proposal{*proposal}))

	return nil
}
