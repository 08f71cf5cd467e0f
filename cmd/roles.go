/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/smehub/apiserver/config"
	"github.com/smehub/apiserver/internal/logging"
	"github.com/smehub/apiserver/internal/rbac"
	"github.com/smehub/apiserver/internal/server"
	"github.com/smehub/apiserver/internal/storage"
	"github.com/spf13/cobra"
)

var rolesCmd = &cobra.Command{
	Use:   "roles",
	Short: "Inspect and publish the role configuration",
}

var rolesShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the loaded roles and their permissions",
	RunE: func(cmd *cobra.Command, args []string) error {
		engine := loadEngine(cmd)

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ROLE\tNAME\tLEVEL\tPERMISSIONS")
		for _, role := range engine.Roles() {
			fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", role.Key, role.Name, role.Level, strings.Join(role.Permissions, ","))
		}
		fmt.Fprintf(tw, "\ndefault role: %s\n", engine.DefaultRole())
		return tw.Flush()
	},
}

var rolesCheckCmd = &cobra.Command{
	Use:   "check <role> <permission>",
	Short: "Report whether a role holds a permission",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		engine := loadEngine(cmd)
		role := engine.NormalizeRole(args[0])
		if engine.HasPermission(args[0], args[1]) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s (%s): %s granted\n", args[0], role, args[1])
			return nil
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s (%s): %s denied\n", args[0], role, args[1])
		os.Exit(2)
		return nil
	},
}

var rolesPublishCmd = &cobra.Command{
	Use:   "publish <file>",
	Short: "Validate a role document and upload it to object storage",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		if _, err := rbac.ParseConfig(data); err != nil {
			return fmt.Errorf("invalid role document: %w", err)
		}

		cfg := config.LoadConfig()
		st, err := storage.Open(cmd.Context(), cfg.Storage)
		if err != nil {
			return err
		}
		if err := st.EnsureBucket(cmd.Context()); err != nil {
			return err
		}
		if err := st.Put(cmd.Context(), cfg.Roles.ObjectKey, bytes.NewReader(data), int64(len(data)), "application/json"); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "published %s to %s/%s\n", args[0], st.Bucket(), cfg.Roles.ObjectKey)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(rolesCmd)
	rolesCmd.AddCommand(rolesShowCmd)
	rolesCmd.AddCommand(rolesCheckCmd)
	rolesCmd.AddCommand(rolesPublishCmd)
}

func loadEngine(cmd *cobra.Command) *rbac.Engine {
	cfg := config.LoadConfig()
	log := logging.New(os.Stderr, cfg.IsProduction())
	return rbac.NewEngine(server.LoadRoles(cmd.Context(), cfg, log))
}
