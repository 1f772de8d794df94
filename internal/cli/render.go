package cli

import (
	"fmt"
	"strings"

	"github.com/curatorhq/curator/internal/model"
)

// statusStyles maps review states to their display style.
func statusStyle(status string) string {
	switch status {
	case string(model.BatchCompleted), string(model.ProposalApproved):
		return SuccessStyle.Render(status)
	case string(model.BatchRejected), string(model.BatchExpired):
		return ErrorStyle.Render(status)
	case string(model.BatchPartiallyReviewed):
		return WarningStyle.Render(status)
	default:
		return SubtleStyle.Render(status)
	}
}

// RenderBatches renders a batch listing as a table.
func RenderBatches(batches []model.Batch) string {
	if len(batches) == 0 {
		return SubtleStyle.Render("No batches found.")
	}

	var b strings.Builder
	b.WriteString(TableHeaderStyle.Render(fmt.Sprintf("%-36s  %-14s  %-12s  %-20s  %-9s", "ID", "OWNER", "TYPE", "STATUS", "REVIEWED")))
	b.WriteString("\n")
	for _, batch := range batches {
		b.WriteString(fmt.Sprintf("%-36s  %-14s  %-12s  %-20s  %d/%d\n",
			batch.ID,
			truncate(batch.OwnerID, 14),
			batch.ResourceType,
			statusStyle(string(batch.Status)),
			batch.Resolved(),
			batch.ProposalCount))
	}
	return b.String()
}

// RenderBatchHeader renders the one-batch summary shown above its proposals.
func RenderBatchHeader(batch model.Batch) string {
	var b strings.Builder
	b.WriteString(TitleStyle.Render(fmt.Sprintf("Batch %s", batch.ID)))
	b.WriteString("\n")
	b.WriteString(fmt.Sprintf("owner: %s  type: %s  status: %s  reviewed: %d/%d\n",
		batch.OwnerID, batch.ResourceType, statusStyle(string(batch.Status)), batch.Resolved(), batch.ProposalCount))
	if batch.Summary != "" {
		b.WriteString(SubtleStyle.Render(batch.Summary))
		b.WriteString("\n")
	}
	return b.String()
}

// RenderProposals renders the proposals of one batch.
func RenderProposals(proposals []model.Proposal) string {
	if len(proposals) == 0 {
		return SubtleStyle.Render("Batch has no proposals.")
	}

	var b strings.Builder
	for i, p := range proposals {
		b.WriteString(TitleStyle.Render(fmt.Sprintf("%d. %s %s", i+1, strings.ToUpper(string(p.Operation)), p.ID)))
		b.WriteString("\n")
		b.WriteString(fmt.Sprintf("   status:   %s\n", statusStyle(string(p.Status))))
		if p.TargetEntityID != "" {
			b.WriteString(fmt.Sprintf("   target:   %s\n", p.TargetEntityID))
		}
		if len(p.MergeSourceIDs) > 0 {
			b.WriteString(fmt.Sprintf("   absorbs:  %s\n", strings.Join(p.MergeSourceIDs, ", ")))
		}
		if p.Draft.Title != "" {
			b.WriteString(fmt.Sprintf("   title:    %s\n", p.Draft.Title))
		}
		b.WriteString(fmt.Sprintf("   content:  %s\n", truncate(p.Draft.Content, 100)))
		if p.Reason != "" {
			b.WriteString(SubtleStyle.Render(fmt.Sprintf("   reason:   %s", truncate(p.Reason, 120))))
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}
	return b.String()
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-1] + "…"
}
