package main

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"dicomdisc/internal/jobstore"
)

var preferenceKeys = map[string]string{
	"renditions":  jobstore.KeyIncludeRenditions,
	"viewer":      jobstore.KeyIncludeViewer,
	"last-folder": jobstore.KeyLastFolder,
}

func newPrefsCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prefs",
		Short: "Show or change remembered export choices",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show remembered export choices",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(store *jobstore.Store) error {
				prefs, err := store.LoadPreferences(cmd.Context())
				if err != nil {
					return err
				}
				if ctx.JSONMode() {
					return writeJSON(cmd, map[string]any{
						"include_renditions": prefs.IncludeRenditions,
						"include_viewer":     prefs.IncludeViewer,
						"last_folder":        prefs.LastFolder,
					})
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Renditions:   %s\n", yesNo(prefs.IncludeRenditions))
				fmt.Fprintf(out, "Viewer:       %s\n", yesNo(prefs.IncludeViewer))
				folder := prefs.LastFolder
				if folder == "" {
					folder = "(not set)"
				}
				fmt.Fprintf(out, "Last folder:  %s\n", folder)
				return nil
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "set <key> <value>",
		Short: "Change a remembered export choice",
		Long:  "Change a remembered export choice. Keys: " + strings.Join(sortedPreferenceNames(), ", ") + ".",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, ok := preferenceKeys[strings.ToLower(strings.TrimSpace(args[0]))]
			if !ok {
				return fmt.Errorf("unknown preference %q (want one of %s)", args[0], strings.Join(sortedPreferenceNames(), ", "))
			}
			value := strings.TrimSpace(args[1])
			if key != jobstore.KeyLastFolder {
				b, err := strconv.ParseBool(value)
				if err != nil {
					return fmt.Errorf("preference %s expects true or false", args[0])
				}
				value = strconv.FormatBool(b)
			}
			return ctx.withStore(func(store *jobstore.Store) error {
				if err := store.Set(cmd.Context(), key, value); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Set %s = %s\n", args[0], value)
				return nil
			})
		},
	})
	return cmd
}

func sortedPreferenceNames() []string {
	names := make([]string, 0, len(preferenceKeys))
	for name := range preferenceKeys {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
