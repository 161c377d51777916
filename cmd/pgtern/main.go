package main

import (
	"context"
	"fmt"
	"github.com/denismitr/pgtern/internal/cli"
	"github.com/denismitr/pgtern/migration"
	"github.com/logrusorgru/aurora/v3"
	"github.com/spf13/cobra"
	"os"
	"os/signal"
	"syscall"
)

type flags struct {
	config string
	migdir string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Println(aurora.Red("pgtern: "), err.Error())
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	f := &flags{}

	root := &cobra.Command{
		Use:           "pgtern",
		Short:         "Versioned SQL schema migrations",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&f.config, "config", "c", cli.DefaultConfigPath, "path to the yaml config")
	root.PersistentFlags().StringVarP(&f.migdir, "migdir", "m", "./migrations", "migrations root folder, the app folder lives inside")

	root.AddCommand(
		newUpCmd(f),
		newDownCmd(f),
		newRedoCmd(f),
		newStatusCmd(f),
		newNewCmd(f),
		newPlanCmd(f),
		newUnlockCmd(f),
		newInitCmd(f),
	)

	return root
}

// withApp loads the config, opens the app and closes it after fn
func withApp(f *flags, fn func(app *cli.App) error) (err error) {
	cfg, err := cli.LoadConfig(f.config)
	if err != nil {
		return err
	}

	app, closer, err := cli.NewApp(cfg, f.migdir, cli.NewStdoutPrinter())
	if err != nil {
		return err
	}

	defer func() {
		if closeErr := closer(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	return fn(app)
}

func newUpCmd(f *flags) *cobra.Command {
	var n int

	cmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(f, func(app *cli.App) error {
				report, err := app.Up(cmd.Context(), n)
				return printReport(report, err)
			})
		},
	}

	cmd.Flags().IntVarP(&n, "steps", "n", -1, "number of migrations to apply, negative for all")

	return cmd
}

func newDownCmd(f *flags) *cobra.Command {
	var n int

	cmd := &cobra.Command{
		Use:   "down",
		Short: "Revert applied migrations, most recent first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(f, func(app *cli.App) error {
				report, err := app.Down(cmd.Context(), n)
				return printReport(report, err)
			})
		},
	}

	cmd.Flags().IntVarP(&n, "steps", "n", 1, "number of migrations to revert, negative for all")

	return cmd
}

func newRedoCmd(f *flags) *cobra.Command {
	var n int

	cmd := &cobra.Command{
		Use:   "redo",
		Short: "Revert the most recent migrations and apply them again",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(f, func(app *cli.App) error {
				rolledBack, migrated, err := app.Redo(cmd.Context(), n)
				if err != nil {
					if rolledBack != nil && !rolledBack.Empty() {
						printFailure(rolledBack)
					}
					if migrated != nil && !migrated.Empty() {
						printFailure(migrated)
					}
					return err
				}

				if rolledBack.Empty() {
					fmt.Println(aurora.Green("pgtern: "), "nothing to do")
					return nil
				}

				printCommitted(rolledBack)
				printCommitted(migrated)

				return nil
			})
		},
	}

	cmd.Flags().IntVarP(&n, "steps", "n", 1, "number of migrations to redo, negative for all")

	return cmd
}

func newStatusCmd(f *flags) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "List migrations and whether they are applied",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(f, func(app *cli.App) error {
				status, err := app.Status(cmd.Context())
				if err != nil {
					return err
				}

				if len(status) == 0 {
					fmt.Println(aurora.Yellow("pgtern: "), "no migrations found in", app.Dir())
					return nil
				}

				for _, st := range status {
					switch {
					case st.Missing:
						fmt.Println(aurora.Red(st.Version), "applied", st.AppliedAt.Format("2006-01-02 15:04:05"), aurora.Red("files missing"))
					case st.Applied:
						fmt.Println(aurora.Green(st.Version), "applied", st.AppliedAt.Format("2006-01-02 15:04:05"))
					default:
						fmt.Println(aurora.Yellow(st.Version), "pending")
					}
				}

				return nil
			})
		},
	}
}

func newNewCmd(f *flags) *cobra.Command {
	return &cobra.Command{
		Use:   "new",
		Short: "Create an empty up/down migration pair with a new version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(f, func(app *cli.App) error {
				up, down, err := app.New()
				if err != nil {
					return err
				}

				fmt.Println(aurora.Green("pgtern: "), "created", up)
				fmt.Println(aurora.Green("pgtern: "), "created", down)

				return nil
			})
		},
	}
}

func newPlanCmd(f *flags) *cobra.Command {
	var n int

	cmd := &cobra.Command{
		Use:       "plan up|down",
		Short:     "Show the migrations up or down would run, without running them",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{string(migration.Up), string(migration.Down)},
		RunE: func(cmd *cobra.Command, args []string) error {
			d := migration.Direction(args[0])
			steps := n
			if !cmd.Flags().Changed("steps") && d == migration.Down {
				steps = 1
			}

			return withApp(f, func(app *cli.App) error {
				plan, err := app.Plan(cmd.Context(), d, steps)
				if err != nil {
					return err
				}

				if len(plan) == 0 {
					fmt.Println(aurora.Green("pgtern: "), "nothing to do")
					return nil
				}

				for _, m := range plan {
					fmt.Println(aurora.Cyan(d), m.Filename(d))
				}

				return nil
			})
		},
	}

	cmd.Flags().IntVarP(&n, "steps", "n", -1, "number of migrations to plan, negative for all")

	return cmd
}

func newUnlockCmd(f *flags) *cobra.Command {
	return &cobra.Command{
		Use:   "unlock",
		Short: "Remove a migrations lock left by a crashed run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(f, func(app *cli.App) error {
				if err := app.Unlock(cmd.Context()); err != nil {
					return err
				}

				fmt.Println(aurora.Green("pgtern: "), "unlocked")

				return nil
			})
		},
	}
}

func newInitCmd(f *flags) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a config file stub",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			if err := cli.InitCfg(f.config); err != nil {
				return err
			}

			fmt.Println(aurora.Green("pgtern: "), "config written to", f.config)

			return nil
		},
	}
}

func printReport(report *migration.Report, err error) error {
	if err != nil {
		if report != nil {
			printFailure(report)
		}
		return err
	}

	if report.Empty() {
		fmt.Println(aurora.Green("pgtern: "), "nothing to do")
		return nil
	}

	printCommitted(report)
	fmt.Println(aurora.Green("pgtern: "), "all done")

	return nil
}

func printCommitted(report *migration.Report) {
	for _, m := range report.Committed() {
		fmt.Println(aurora.Green(report.Direction), m.Version)
	}
}

func printFailure(report *migration.Report) {
	printCommitted(report)

	if failed, ok := report.Failure(); ok {
		fmt.Println(aurora.Red("failed"), failed.Migration.Version, failed.Err.Error())
	}

	for _, m := range report.NotAttempted() {
		fmt.Println(aurora.Yellow("not attempted"), m.Version)
	}
}
