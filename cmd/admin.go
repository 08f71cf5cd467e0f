/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/smehub/apiserver/config"
	"github.com/smehub/apiserver/internal/db"
	"github.com/smehub/apiserver/internal/logging"
	"github.com/smehub/apiserver/internal/rbac"
	"github.com/smehub/apiserver/internal/server"
	"github.com/smehub/apiserver/internal/services"
	"github.com/smehub/apiserver/internal/store"
	"github.com/smehub/apiserver/types"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var (
	adminUsername string
	adminEmail    string
	adminRole     string
)

var adminCmd = &cobra.Command{
	Use:   "admin",
	Short: "Account administration",
}

var adminCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create an account without going through the API",
	Long: `Creates an account directly in the database. The password is read from
the terminal, or from the first line of stdin when stdin is not a terminal.
Used to bootstrap the first superadmin.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cfg := config.LoadConfig()
		log := logging.New(os.Stderr, cfg.IsProduction())

		password, err := readPassword()
		if err != nil {
			return err
		}

		conn, err := db.Open(ctx, cfg)
		if err != nil {
			return err
		}
		defer conn.Close()

		engine := rbac.NewEngine(server.LoadRoles(ctx, cfg, log))
		users := services.NewUserService(store.NewUserRepository(conn), services.NewBcryptHasher(cfg.Auth.BcryptCost), engine)

		// The command line acts with the highest role the configuration defines.
		actor := types.User{Role: engine.Roles()[0].Key, IsActive: true}
		user, err := users.Create(ctx, actor, services.NewUser{
			Username: adminUsername,
			Email:    adminEmail,
			Password: password,
			Role:     adminRole,
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "created %s (%s) with role %s\n", user.Username, user.ID, user.Role)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(adminCmd)
	adminCmd.AddCommand(adminCreateCmd)
	adminCreateCmd.Flags().StringVar(&adminUsername, "username", "", "login name")
	adminCreateCmd.Flags().StringVar(&adminEmail, "email", "", "e-mail address")
	adminCreateCmd.Flags().StringVar(&adminRole, "role", "superadmin", "role to assign")
	_ = adminCreateCmd.MarkFlagRequired("username")
	_ = adminCreateCmd.MarkFlagRequired("email")
}

func readPassword() (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && line == "" {
			return "", errors.New("no password on stdin")
		}
		return strings.TrimRight(line, "\r\n"), nil
	}

	fmt.Fprint(os.Stderr, "Password: ")
	first, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	fmt.Fprint(os.Stderr, "Confirm password: ")
	second, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	if string(first) != string(second) {
		return "", errors.New("passwords do not match")
	}
	return string(first), nil
}
