package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/miradorstack/teleops-rca/internal/api"
	"github.com/miradorstack/teleops-rca/internal/models"
)

func newCorrelateCmd(g *globalFlags) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "correlate",
		Short: "Store an alert batch and group it into incidents",
		Long: "Reads alerts as a JSON array, a {\"alerts\": [...]} object or one JSON object per line,\n" +
			"stores them and prints every group with its disposition.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			alerts, err := readAlerts(cmd.InOrStdin(), file)
			if err != nil {
				return err
			}
			s, err := g.open(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			resp, err := s.engine.Correlate(cmd.Context(), &api.CorrelateRequest{Alerts: alerts})
			if err != nil {
				return api.FromStatus("correlate", err)
			}
			if g.output == "json" {
				return writeJSON(cmd.OutOrStdout(), resp)
			}
			renderCorrelation(cmd.OutOrStdout(), resp)
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "Alert file, or - for stdin (required)")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func readAlerts(stdin io.Reader, path string) ([]models.Alert, error) {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read alerts: %w", err)
	}
	return parseAlerts(data)
}

func parseAlerts(data []byte) ([]models.Alert, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("alert input is empty")
	}

	switch trimmed[0] {
	case '[':
		var alerts []models.Alert
		if err := json.Unmarshal(trimmed, &alerts); err != nil {
			return nil, fmt.Errorf("parse alert array: %w", err)
		}
		return alerts, nil
	case '{':
		var wrapped struct {
			Alerts []models.Alert `json:"alerts"`
		}
		if err := json.Unmarshal(trimmed, &wrapped); err == nil && wrapped.Alerts != nil {
			return wrapped.Alerts, nil
		}
	}

	var alerts []models.Alert
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	for dec.More() {
		var a models.Alert
		if err := dec.Decode(&a); err != nil {
			return nil, fmt.Errorf("parse alert %d: %w", len(alerts)+1, err)
		}
		alerts = append(alerts, a)
	}
	return alerts, nil
}
