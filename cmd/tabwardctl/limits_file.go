package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/spf13/cobra"

	"tabward/internal/store"
)

// limitsFile is the JSON shape of an exported limit set.
type limitsFile struct {
	Limits []store.Limit `json:"limits"`
}

// limitsFileSchema validates an import before any limit is sent to the
// daemon, so a bad file fails whole rather than half-applying.
const limitsFileSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["limits"],
  "properties": {
    "limits": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["target_type", "target_id", "timeframe", "limit_minutes"],
        "properties": {
          "id": {"type": "integer"},
          "target_type": {"enum": ["site", "category"]},
          "target_id": {"type": "string", "minLength": 1},
          "timeframe": {"enum": ["daily", "weekly", "monthly"]},
          "limit_minutes": {"type": "integer", "minimum": 1}
        },
        "additionalProperties": false
      }
    }
  },
  "additionalProperties": false
}`

var compiledLimitsSchema = jsonschema.MustCompileString("limits.schema.json", limitsFileSchema)

func newLimitsExportCmd(dial dialFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "export [file]",
		Short: "Export limits as JSON",
		Long:  "Export all limits as JSON, to a file or to stdout when no file is given.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := dial()
			if err != nil {
				return err
			}
			defer conn.Close()

			all, err := conn.Limits()
			if err != nil {
				return err
			}

			data, err := json.MarshalIndent(&limitsFile{Limits: all}, "", "  ")
			if err != nil {
				return fmt.Errorf("encode limits: %w", err)
			}
			data = append(data, '\n')

			if len(args) == 0 {
				_, err = cmd.OutOrStdout().Write(data)
				return err
			}
			if err := os.WriteFile(args[0], data, 0600); err != nil {
				return fmt.Errorf("write %s: %w", args[0], err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d limits exported to %s\n", len(all), args[0])
			return nil
		},
	}
}

func newLimitsImportCmd(dial dialFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Import limits from a JSON file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := parseLimitsFile(args[0])
			if err != nil {
				return err
			}

			conn, err := dial()
			if err != nil {
				return err
			}
			defer conn.Close()

			imported := 0
			for _, l := range f.Limits {
				l.ID = 0
				if _, err := conn.AddLimit(l); err != nil {
					// Duplicate (target, timeframe) pairs are skipped, the
					// rest of the file still imports.
					fmt.Fprintf(cmd.ErrOrStderr(), "skipped %s %s %s: %v\n", l.TargetType, l.TargetID, l.Timeframe, err)
					continue
				}
				imported++
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d of %d limits imported\n", imported, len(f.Limits))
			return nil
		},
	}
}

func parseLimitsFile(path string) (*limitsFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	var instance any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&instance); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if err := compiledLimitsSchema.Validate(instance); err != nil {
		return nil, fmt.Errorf("validate %s: %w", path, err)
	}

	var f limitsFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("unmarshal %s: %w", path, err)
	}
	return &f, nil
}
