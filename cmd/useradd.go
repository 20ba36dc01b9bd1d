package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/haozheli/docchat/internal/config"
	"github.com/haozheli/docchat/internal/sessions"
)

func useraddCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "useradd",
		Short: "Add or update a login in the users file",
		Run: func(cmd *cobra.Command, args []string) {
			cfg := loadConfigOrExit()
			usersFile := config.ExpandHome(cfg.Auth.UsersFile)

			var username, password, confirm string
			form := huh.NewForm(
				huh.NewGroup(
					huh.NewInput().
						Title("Username").
						Value(&username).
						Validate(func(s string) error {
							if strings.TrimSpace(s) == "" {
								return fmt.Errorf("username must not be empty")
							}
							return nil
						}),
					huh.NewInput().
						Title("Password").
						EchoMode(huh.EchoModePassword).
						Value(&password).
						Validate(func(s string) error {
							if len(s) < 8 {
								return fmt.Errorf("password must be at least 8 characters")
							}
							return nil
						}),
					huh.NewInput().
						Title("Confirm password").
						EchoMode(huh.EchoModePassword).
						Value(&confirm),
				),
			)
			if err := form.Run(); err != nil {
				fmt.Fprintf(os.Stderr, "aborted: %v\n", err)
				os.Exit(1)
			}
			if password != confirm {
				fmt.Fprintln(os.Stderr, "passwords do not match")
				os.Exit(1)
			}

			users, err := sessions.LoadUsers(usersFile)
			if err != nil {
				fmt.Fprintf(os.Stderr, "load users: %v\n", err)
				os.Exit(1)
			}
			hash, err := sessions.HashPassword(password)
			if err != nil {
				fmt.Fprintf(os.Stderr, "hash password: %v\n", err)
				os.Exit(1)
			}
			_, existed := users[strings.TrimSpace(username)]
			users[strings.TrimSpace(username)] = hash
			if err := sessions.SaveUsers(usersFile, users); err != nil {
				fmt.Fprintf(os.Stderr, "save users: %v\n", err)
				os.Exit(1)
			}
			if existed {
				fmt.Printf("updated password for %s in %s\n", username, usersFile)
			} else {
				fmt.Printf("added %s to %s\n", username, usersFile)
			}
		},
	}
}
