package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/kozaktomas/face-attendance/internal/config"
	"github.com/kozaktomas/face-attendance/internal/users"
	"github.com/spf13/cobra"
)

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage employee accounts",
}

var userAddCmd = &cobra.Command{
	Use:   "add <username>",
	Short: "Create an employee account",
	Args:  cobra.ExactArgs(1),
	RunE:  runUserAdd,
}

var userListCmd = &cobra.Command{
	Use:   "list",
	Short: "List employee accounts",
	Args:  cobra.NoArgs,
	RunE:  runUserList,
}

func init() {
	rootCmd.AddCommand(userCmd)
	userCmd.AddCommand(userAddCmd)
	userCmd.AddCommand(userListCmd)

	userAddCmd.Flags().String("name", "", "Full name")
	userAddCmd.Flags().String("password", "", "Password (required)")
}

func runUserAdd(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	ctx := context.Background()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()

	u, err := a.users.Add(ctx, args[0], mustGetString(cmd, "name"), mustGetString(cmd, "password"))
	switch {
	case errors.Is(err, users.ErrUserExists):
		return fmt.Errorf("user %q already exists", args[0])
	case err != nil:
		return err
	}

	fmt.Printf("Created %s user %s\n", u.Role, u.Username)
	return nil
}

func runUserList(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	ctx := context.Background()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()

	list, err := a.users.List(ctx)
	if err != nil {
		return err
	}
	if len(list) == 0 {
		fmt.Println("No users")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "USERNAME\tFULL NAME\tROLE\tCREATED")
	for _, u := range list {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", u.Username, u.FullName, u.Role, u.Created)
	}
	return w.Flush()
}
