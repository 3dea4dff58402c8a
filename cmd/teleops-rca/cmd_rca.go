package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/miradorstack/teleops-rca/internal/api"
	"github.com/miradorstack/teleops-rca/internal/models"
	"github.com/miradorstack/teleops-rca/internal/services"
)

func newRCACmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rca",
		Short: "Generate and inspect RCA artifacts",
	}
	cmd.AddCommand(
		newGenerateCmd(g, models.ReasonerBaseline),
		newGenerateCmd(g, models.ReasonerGrounded),
		newLatestCmd(g),
		newListArtifactsCmd(g),
	)
	return cmd
}

func newGenerateCmd(g *globalFlags, kind models.ReasonerKind) *cobra.Command {
	var parallelism int
	short := "Run the rule catalog against incidents"
	if kind == models.ReasonerGrounded {
		short = "Run the grounded language-model reasoner against incidents"
	}
	cmd := &cobra.Command{
		Use:   string(kind) + " <incident-id>...",
		Short: short,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := g.open(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			var results []services.BatchResult
			if s.local() && len(args) > 1 {
				results = s.app.service.Orchestrator().GenerateBatch(cmd.Context(), args, kind, parallelism)
			} else {
				for _, id := range args {
					req := &api.IncidentRequest{IncidentID: id}
					var resp *api.ArtifactResponse
					if kind == models.ReasonerGrounded {
						resp, err = s.engine.GenerateGroundedRCA(cmd.Context(), req)
					} else {
						resp, err = s.engine.GenerateBaselineRCA(cmd.Context(), req)
					}
					r := services.BatchResult{IncidentID: id, Err: api.FromStatus("rca "+string(kind), err)}
					if resp != nil {
						r.Artifact = resp.Artifact
					}
					results = append(results, r)
				}
			}

			out := cmd.OutOrStdout()
			if len(results) == 1 {
				if results[0].Err != nil {
					return results[0].Err
				}
				if g.output == "json" {
					return writeJSON(out, results[0].Artifact)
				}
				renderArtifact(out, results[0].Artifact)
				return nil
			}

			failed := 0
			for _, r := range results {
				if r.Err != nil {
					failed++
				}
			}
			if g.output == "json" {
				if err := writeJSON(out, batchJSON(results)); err != nil {
					return err
				}
			} else {
				renderBatch(out, results)
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d incidents failed", failed, len(results))
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&parallelism, "parallel", 4, "Concurrent generations for multi-incident runs")
	return cmd
}

type batchItem struct {
	IncidentID string           `json:"incident_id"`
	Artifact   *models.Artifact `json:"artifact,omitempty"`
	Error      string           `json:"error,omitempty"`
}

func batchJSON(results []services.BatchResult) []batchItem {
	out := make([]batchItem, 0, len(results))
	for _, r := range results {
		item := batchItem{IncidentID: r.IncidentID}
		if r.Err != nil {
			item.Error = r.Err.Error()
		} else {
			a := r.Artifact
			item.Artifact = &a
		}
		out = append(out, item)
	}
	return out
}

func newLatestCmd(g *globalFlags) *cobra.Command {
	var reasoner, status string
	cmd := &cobra.Command{
		Use:   "latest <incident-id>",
		Short: "Show the newest artifact of an incident",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := g.open(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			resp, err := s.engine.GetLatestArtifact(cmd.Context(), &api.LatestArtifactRequest{
				IncidentID: args[0],
				Reasoner:   reasoner,
				Status:     status,
			})
			if err != nil {
				return api.FromStatus("rca latest", err)
			}
			if g.output == "json" {
				return writeJSON(cmd.OutOrStdout(), resp.Artifact)
			}
			renderArtifact(cmd.OutOrStdout(), resp.Artifact)
			return nil
		},
	}
	cmd.Flags().StringVar(&reasoner, "reasoner", "any", "any, baseline, grounded (llm)")
	cmd.Flags().StringVar(&status, "status", "", "pending_review, accepted or rejected")
	return cmd
}

func newListArtifactsCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "list <incident-id>",
		Short: "List every artifact of an incident in creation order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := g.open(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			resp, err := s.engine.ListArtifacts(cmd.Context(), &api.IncidentRequest{IncidentID: args[0]})
			if err != nil {
				return api.FromStatus("rca list", err)
			}
			if g.output == "json" {
				return writeJSON(cmd.OutOrStdout(), resp.Artifacts)
			}
			renderArtifacts(cmd.OutOrStdout(), resp.Artifacts)
			return nil
		},
	}
}
