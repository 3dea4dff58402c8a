package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/miradorstack/teleops-rca/internal/api"
	"github.com/miradorstack/teleops-rca/internal/services"
	"github.com/miradorstack/teleops-rca/internal/utils"
)

func newIncidentsCmd(g *globalFlags) *cobra.Command {
	var req api.ListIncidentsRequest
	list := func(cmd *cobra.Command, _ []string) error {
		s, err := g.open(cmd.Context())
		if err != nil {
			return err
		}
		defer s.Close()

		resp, err := s.engine.ListIncidents(cmd.Context(), &req)
		if err != nil {
			return api.FromStatus("incidents", err)
		}
		if g.output == "json" {
			return writeJSON(cmd.OutOrStdout(), resp.Incidents)
		}
		renderIncidents(cmd.OutOrStdout(), resp.Incidents)
		return nil
	}

	cmd := &cobra.Command{
		Use:   "incidents",
		Short: "List, close and summarise incidents",
		RunE:  list,
	}
	f := cmd.PersistentFlags()
	f.StringVar(&req.Status, "status", "", "open or closed")
	f.StringVar(&req.Tag, "tag", "", "Filter by grouping tag")
	f.IntVar(&req.Limit, "limit", 0, "Maximum incidents (0 = all)")

	cmd.AddCommand(
		&cobra.Command{Use: "list", Short: "List incidents, newest first", RunE: list},
		newCloseCmd(g),
		newOverviewCmd(g),
		newAlertsCmd(g),
	)
	return cmd
}

func newCloseCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "close <incident-id>",
		Short: "Close an incident so new alerts can open a fresh one",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := g.open(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()
			if !s.local() {
				return errors.New("close runs against the local store; drop --addr")
			}
			if err := s.app.service.CloseIncident(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Incident %s closed\n", args[0])
			return nil
		},
	}
}

func newOverviewCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "overview",
		Short: "Summarise stored alerts, incidents, artifacts and reviews",
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := g.open(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			resp, err := s.engine.Overview(cmd.Context(), &api.OverviewRequest{})
			if err != nil {
				return api.FromStatus("overview", err)
			}
			if g.output == "json" {
				return writeJSON(cmd.OutOrStdout(), resp.Overview)
			}
			renderOverview(cmd.OutOrStdout(), resp.Overview)
			return nil
		},
	}
}

func newAlertsCmd(g *globalFlags) *cobra.Command {
	var filter services.AlertFilter
	var since, until string
	cmd := &cobra.Command{
		Use:   "alerts",
		Short: "List stored alerts by tag and time range",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			if filter.Since, err = parseOptionalTime(since); err != nil {
				return err
			}
			if filter.Until, err = parseOptionalTime(until); err != nil {
				return err
			}
			s, err := g.open(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()
			if !s.local() {
				return errors.New("alerts runs against the local store; drop --addr")
			}
			alerts, err := s.app.service.ListAlerts(cmd.Context(), filter)
			if err != nil {
				return err
			}
			if g.output == "json" {
				return writeJSON(cmd.OutOrStdout(), alerts)
			}
			t := newTable(cmd.OutOrStdout(), "ID", "TIMESTAMP", "HOST", "SEVERITY", "TYPE", "MESSAGE")
			for _, a := range alerts {
				t.AppendRow([]any{a.ID, stamp(a.Timestamp), a.Host, a.Severity, a.AlertType, a.Message})
			}
			t.Render()
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&filter.TagKey, "tag-key", "", "Tag that must be present")
	f.StringVar(&filter.TagValue, "tag-value", "", "Required value of --tag-key")
	f.StringVar(&since, "since", "", "RFC3339 lower bound")
	f.StringVar(&until, "until", "", "RFC3339 upper bound")
	f.IntVar(&filter.Limit, "limit", 0, "Maximum alerts (0 = all)")
	return cmd
}

func parseOptionalTime(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	return utils.ParseRFC3339(value)
}
