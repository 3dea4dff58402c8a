package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/miradorstack/teleops-rca/internal/api"
)

func newReviewCmd(g *globalFlags) *cobra.Command {
	var decision, reviewer, note string
	cmd := &cobra.Command{
		Use:   "review <artifact-id>",
		Short: "Accept or reject an RCA artifact",
		Long:  "Records a review decision. Each artifact can be reviewed once; later attempts fail with ALREADY_REVIEWED.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := g.open(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			resp, err := s.engine.ReviewArtifact(g.callCtx(cmd.Context()), &api.ReviewRequest{
				ArtifactID: args[0],
				Decision:   decision,
				ReviewerID: reviewer,
				Note:       note,
			})
			if err != nil {
				return api.FromStatus("review", err)
			}
			out := cmd.OutOrStdout()
			if g.output == "json" {
				return writeJSON(out, resp.Entry)
			}
			fmt.Fprintf(out, "Artifact %s %s by %s (audit entry %s)\n",
				resp.Entry.ArtifactID, resp.Entry.Decision, resp.Entry.ReviewerID, resp.Entry.ID)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&decision, "decision", "", "accepted or rejected (required)")
	f.StringVar(&reviewer, "reviewer", "", "Reviewer id; taken from the token when the server verifies reviewers")
	f.StringVar(&note, "note", "", "Free-text justification")
	_ = cmd.MarkFlagRequired("decision")
	return cmd
}

func newAuditCmd(g *globalFlags) *cobra.Command {
	var req api.AuditRequest
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Query the review audit trail",
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := g.open(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			resp, err := s.engine.QueryAudit(cmd.Context(), &req)
			if err != nil {
				return api.FromStatus("audit", err)
			}
			if g.output == "json" {
				return writeJSON(cmd.OutOrStdout(), resp.Entries)
			}
			renderAudit(cmd.OutOrStdout(), resp.Entries)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&req.IncidentID, "incident", "", "Filter by incident id")
	f.StringVar(&req.ArtifactID, "artifact", "", "Filter by artifact id")
	f.StringVar(&req.Decision, "decision", "", "Filter by decision")
	f.StringVar(&req.ReviewerID, "reviewer", "", "Filter by reviewer id")
	f.IntVar(&req.Limit, "limit", 0, "Maximum entries (0 = all)")
	return cmd
}
