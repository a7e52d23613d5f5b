// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quire Contributors

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/quire-editor/quire/internal/extension"
	"github.com/quire-editor/quire/internal/manifest"
	"github.com/quire-editor/quire/internal/resource"
)

// NewExtCmd creates the ext subcommand tree.
func NewExtCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ext",
		Short: "Manage installed extensions",
	}
	cmd.AddCommand(newExtInstallCmd())
	cmd.AddCommand(newExtListCmd())
	cmd.AddCommand(newExtInfoCmd())
	cmd.AddCommand(newExtToggleCmd("enable", "Enable and activate an extension", true))
	cmd.AddCommand(newExtToggleCmd("disable", "Disable and deactivate an extension", false))
	cmd.AddCommand(newExtUninstallCmd())
	cmd.AddCommand(newExtSchemaCmd())
	return cmd
}

func newExtInstallCmd() *cobra.Command {
	var disabled, update bool
	cmd := &cobra.Command{
		Use:   "install <dir|package.json>",
		Short: "Install an extension from a directory or package file",
		Long: `Install an extension. A directory must contain manifest.yaml (or .yml,
.json) and the entry point named by its main field; every other file is
bundled as a resource. A file is read as a JSON package document.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pkg, err := readPackage(args[0])
			if err != nil {
				return err
			}
			e, err := loaded(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer e.Close(cmd.Context())

			var status extension.Status
			if update {
				status, err = e.host.Update(cmd.Context(), pkg)
			} else {
				var opts []extension.InstallOption
				if disabled {
					opts = append(opts, extension.InstallDisabled())
				}
				status, err = e.host.Install(cmd.Context(), pkg, opts...)
			}
			if err != nil {
				return err //nolint:wrapcheck // host errors carry their codes
			}
			cmd.Printf("installed %s %s (%s)\n", status.ID, status.Version, stateLabel(status))
			if status.Error != "" {
				cmd.Printf("  %s\n", color.RedString(status.Error))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&disabled, "disabled", false, "install without enabling")
	cmd.Flags().BoolVar(&update, "update", false, "replace an installed extension with a newer version")
	return cmd
}

// readPackage builds a package from an extension directory or decodes a
// JSON package file.
func readPackage(path string) (*resource.PackageFile, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, oops.In("cli").With("path", path).Wrapf(err, "read package")
	}
	if info.IsDir() {
		return resource.FromFS(os.DirFS(path), packageEntry)
	}
	data, err := os.ReadFile(path) //nolint:gosec // user-supplied package path
	if err != nil {
		return nil, oops.In("cli").With("path", path).Wrapf(err, "read package")
	}
	return resource.ParsePackage(data)
}

func packageEntry(raw []byte) (string, error) {
	m, err := manifest.Parse(raw)
	if err != nil {
		return "", err
	}
	if m.Type == manifest.TypeNative {
		return "", oops.In("cli").Code(resource.CodePackageInvalid).
			With("extension", m.ID).
			Hint("native extensions are compiled into the host").
			Errorf("native extensions cannot be installed from a directory")
	}
	return m.Main, nil
}

func newExtListCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List installed extensions and their state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := loaded(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer e.Close(cmd.Context())

			statuses := e.host.Extensions()
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(statuses) //nolint:wrapcheck // stdout write
			}
			if len(statuses) == 0 {
				cmd.Println("no extensions installed")
				return nil
			}
			for _, s := range statuses {
				writeStatusLine(cmd.OutOrStdout(), s)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print statuses as JSON")
	return cmd
}

func writeStatusLine(w io.Writer, s extension.Status) {
	fmt.Fprintf(w, "%-32s %-10s %-7s %s\n", s.ID, s.Version, s.Type, stateLabel(s))
	if s.Error != "" {
		fmt.Fprintf(w, "  %s\n", color.RedString(s.Error))
	}
}

func stateLabel(s extension.Status) string {
	label := s.State.String()
	if !s.Enabled {
		label += ", disabled"
	}
	switch s.State {
	case extension.StateActivated:
		return color.GreenString(label)
	case extension.StateError:
		return color.RedString(label)
	case extension.StateDeactivated:
		return color.YellowString(label)
	default:
		return color.New(color.Faint).Sprint(label)
	}
}

func newExtInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info <id>",
		Short: "Show an extension's manifest details and grants",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loaded(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer e.Close(cmd.Context())

			s, err := e.host.Status(args[0])
			if err != nil {
				return err //nolint:wrapcheck // host errors carry their codes
			}
			w := cmd.OutOrStdout()
			writeStatusLine(w, s)
			if s.Name != "" {
				fmt.Fprintf(w, "  name:        %s\n", s.Name)
			}
			if s.Description != "" {
				fmt.Fprintf(w, "  description: %s\n", s.Description)
			}
			if s.Author != "" {
				fmt.Fprintf(w, "  author:      %s\n", s.Author)
			}
			fmt.Fprintf(w, "  permissions: %s\n", joinCapabilities(s.Permissions))
			fmt.Fprintf(w, "  granted:     %s\n", joinCapabilities(s.Granted))
			fmt.Fprintf(w, "  digest:      %s\n", s.Digest)
			return nil
		},
	}
}

func joinCapabilities(cs []manifest.Capability) string {
	if len(cs) == 0 {
		return "-"
	}
	names := make([]string, len(cs))
	for i, c := range cs {
		names[i] = c.String()
	}
	return strings.Join(names, ", ")
}

func newExtToggleCmd(use, short string, enable bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loaded(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer e.Close(cmd.Context())

			if enable {
				err = e.host.Enable(cmd.Context(), args[0])
			} else {
				err = e.host.Disable(cmd.Context(), args[0])
			}
			if err != nil {
				return err //nolint:wrapcheck // host errors carry their codes
			}
			s, err := e.host.Status(args[0])
			if err != nil {
				return err //nolint:wrapcheck // host errors carry their codes
			}
			writeStatusLine(cmd.OutOrStdout(), s)
			return nil
		},
	}
}

func newExtUninstallCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "uninstall <id>",
		Short: "Remove an extension with its storage and settings",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loaded(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer e.Close(cmd.Context())

			if err := e.host.Uninstall(cmd.Context(), args[0]); err != nil {
				return err //nolint:wrapcheck // host errors carry their codes
			}
			cmd.Printf("uninstalled %s\n", args[0])
			return nil
		},
	}
}

func newExtSchemaCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Print the extension manifest JSON Schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			schema, err := manifest.GenerateSchema()
			if err != nil {
				return err //nolint:wrapcheck // schema errors carry their codes
			}
			if out == "" {
				_, err = cmd.OutOrStdout().Write(append(schema, '\n'))
				return err //nolint:wrapcheck // stdout write
			}
			if err := os.WriteFile(out, schema, 0o600); err != nil {
				return oops.In("cli").With("path", out).Wrapf(err, "write schema")
			}
			cmd.Printf("wrote %s\n", out)
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "output", "o", "", "write the schema to a file instead of stdout")
	return cmd
}
