package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/timebridge/internal/model"
	"github.com/roach88/timebridge/internal/taxonomy"
)

// NewEmployeesCommand creates the employees command group.
func NewEmployeesCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "employees",
		Short: "Map source accounts to booking users",
		Long: `Map source accounts to users of the time-registration system.

Bookings for a mapped account are registered on that user's behalf;
unmapped accounts are booked as the API key's own user.`,
	}

	cmd.AddCommand(newEmployeesListCommand(rootOpts))
	cmd.AddCommand(newEmployeesUnmappedCommand(rootOpts))
	cmd.AddCommand(newEmployeesMapCommand(rootOpts))
	cmd.AddCommand(newEmployeesDeleteCommand(rootOpts))
	return cmd
}

func newEmployeesListCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "list",
		Short:         "List account mappings",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(rootOpts, cmd, func(ctx context.Context, a *app, f *OutputFormatter) error {
				mappings, err := a.store.ListEmployeeMappings(ctx)
				if err != nil {
					return err
				}
				if mappings == nil {
					mappings = []model.EmployeeMapping{}
				}
				return f.Success(employeeList(mappings))
			})
		},
	}
}

type accountList []taxonomy.Account

func (l accountList) RenderText(w io.Writer) error {
	if len(l) == 0 {
		fmt.Fprintln(w, "Every account is mapped.")
		return nil
	}
	tw := newTable(w)
	fmt.Fprintln(tw, "ACCOUNT\tNAME")
	for _, acc := range l {
		fmt.Fprintf(tw, "%s\t%s\n", acc.AccountID, acc.DisplayName)
	}
	return tw.Flush()
}

func newEmployeesUnmappedCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "unmapped",
		Short:         "List imported accounts without a mapping",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(rootOpts, cmd, func(ctx context.Context, a *app, f *OutputFormatter) error {
				em, err := a.employees(false)
				if err != nil {
					return err
				}
				accounts, err := em.Unmapped(ctx)
				if err != nil {
					return err
				}
				if accounts == nil {
					accounts = []taxonomy.Account{}
				}
				return f.Success(accountList(accounts))
			})
		},
	}
}

func newEmployeesMapCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "map <account-id> <user-id>",
		Short: "Map a source account to a booking user",
		Long: `Map a source account to a user of the time-registration system. The
user must exist there; names are looked up in both systems.`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(rootOpts, cmd, func(ctx context.Context, a *app, f *OutputFormatter) error {
				userID, err := parseID("user", args[1])
				if err != nil {
					return err
				}
				em, err := a.employees(true)
				if err != nil {
					return err
				}
				m, err := em.Map(ctx, args[0], userID)
				if err != nil {
					return err
				}
				return f.Success(message{
					Text: fmt.Sprintf("Mapped %s to user %d %s.", m.AccountID, m.TargetUserID, model.Deref(m.TargetUserName)),
					Data: m,
				})
			})
		},
	}
}

func newEmployeesDeleteCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "delete <mapping-id>",
		Short:         "Delete an account mapping",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(rootOpts, cmd, func(ctx context.Context, a *app, f *OutputFormatter) error {
				id, err := parseID("mapping", args[0])
				if err != nil {
					return err
				}
				if err := a.store.DeleteEmployeeMapping(ctx, id); err != nil {
					return err
				}
				return f.Success(message{
					Text: fmt.Sprintf("Deleted mapping %d.", id),
					Data: map[string]any{"mapping_id": id},
				})
			})
		},
	}
}
