package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/agentworkforce/nexusvault/internal/catalog"
)

func exportCmd(a *app) *cobra.Command {
	var format, output string
	cmd := &cobra.Command{
		Use:     "export",
		Short:   "Export the full catalog state",
		Example: "  nexusvault export --output vault.json\n  nexusvault export --format yaml",
		RunE: func(cmd *cobra.Command, args []string) error {
			state, err := a.client().Export(cmd.Context())
			if err != nil {
				return err
			}
			data, err := encodeState(state, format)
			if err != nil {
				return err
			}
			if output == "" {
				_, err = a.out.Write(data)
				return err
			}
			if err := os.WriteFile(output, data, 0o644); err != nil {
				return fmt.Errorf("write export: %w", err)
			}
			a.printf("exported %d items and %d categories to %s\n", len(state.Items), len(state.Categories), output)
			return nil
		},
	}
	cmd.Flags().StringVar(&format, "format", "json", "Output format: json or yaml")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Write to file instead of stdout")
	return cmd
}

func encodeState(state catalog.AppState, format string) ([]byte, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "json":
		data, err := json.MarshalIndent(state, "", "  ")
		if err != nil {
			return nil, err
		}
		return append(data, '\n'), nil
	case "yaml", "yml":
		return yaml.Marshal(state)
	default:
		return nil, fmt.Errorf("unsupported export format %q", format)
	}
}

func importCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "import <file>",
		Short:   "Replace the catalog state with an exported file",
		Long:    "Upload a JSON export. The server validates its shape and overwrites the whole state; versions and settings are untouched.",
		Example: "  nexusvault import vault.json",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read import: %w", err)
			}
			if err := a.client().Import(cmd.Context(), raw); err != nil {
				return err
			}
			a.printf("imported %s\n", args[0])
			return nil
		},
	}
}

func versionsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "versions",
		Short: "List or delete archived versions",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List archived versions, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			versions, err := a.client().FetchVersions(cmd.Context())
			if err != nil {
				return err
			}
			if len(versions) == 0 {
				a.printf("no versions\n")
				return nil
			}
			printVersions(a, versions)
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an archived version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.client().DeleteVersion(cmd.Context(), args[0]); err != nil {
				return err
			}
			a.printf("deleted %s\n", args[0])
			return nil
		},
	})
	return cmd
}

func printVersions(a *app, versions []catalog.Version) {
	tw := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tLABEL\tSAVED\tITEMS\tSIZE")
	for _, v := range versions {
		saved := time.UnixMilli(v.Timestamp).Format(time.RFC3339)
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\n", v.ID, v.Label, saved, len(v.Data.Items), v.Size)
	}
	_ = tw.Flush()
}

func settingsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Show or change autosave and version retention settings",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the current settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := a.client().FetchSettings(cmd.Context())
			if err != nil {
				return err
			}
			printSettings(a, settings)
			return nil
		},
	})

	var interval, maxVersions int
	set := &cobra.Command{
		Use:     "set",
		Short:   "Change settings; unspecified fields keep their value",
		Example: "  nexusvault settings set --interval 0\n  nexusvault settings set --max 50",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := a.client()
			settings, err := c.FetchSettings(cmd.Context())
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("interval") {
				settings.AutoSaveInterval = interval
			}
			if cmd.Flags().Changed("max") {
				settings.MaxVersions = maxVersions
			}
			if err := settings.Validate(); err != nil {
				return err
			}
			saved, err := c.UpdateSettings(cmd.Context(), settings)
			if err != nil {
				return err
			}
			printSettings(a, saved)
			return nil
		},
	}
	set.Flags().IntVar(&interval, "interval", 0, "Autosave interval in minutes (0 disables autosave)")
	set.Flags().IntVar(&maxVersions, "max", 0, "Maximum number of archived versions")
	cmd.AddCommand(set)
	return cmd
}

func printSettings(a *app, settings catalog.Settings) {
	autosave := "off"
	if settings.AutoSaveInterval > 0 {
		autosave = fmt.Sprintf("every %d min", settings.AutoSaveInterval)
	}
	a.printf("autosave:     %s\nmax versions: %d\n", autosave, settings.MaxVersions)
}
