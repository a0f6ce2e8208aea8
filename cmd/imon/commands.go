package main

import (
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/Joseda-hg/imon/internal/logger"
	"github.com/Joseda-hg/imon/internal/model"
	"github.com/Joseda-hg/imon/internal/tui"
)

func (a *app) authCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "auth <name>",
		Short: "Register a new user and store its key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := a.client.Register(withContext(cmd), args[0])
			if err != nil {
				return err
			}
			if err := a.saveKey(key); err != nil {
				return fmt.Errorf("registered as %s but could not save the key: %w", key, err)
			}
			if err := a.cache.Clear(); err != nil {
				logger.CLI.Warn("clear task cache", "error", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Hello %s, your key is %s\n", args[0], key)
			return nil
		},
	}
}

func (a *app) onCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "on <task name>",
		Short: "Start working on a task",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := a.userKey()
			if err != nil {
				return err
			}
			task, err := a.client.Begin(withContext(cmd), key, strings.Join(args, " "))
			if err != nil {
				return err
			}
			a.remember(task)
			fmt.Fprintf(cmd.OutOrStdout(), "Started `%s`\n", task.Name)
			return nil
		},
	}
}

func (a *app) breakCmd() *cobra.Command {
	return a.updateCmd("break", "Pause the current task", model.StateBreak, func(task model.Task) string {
		return fmt.Sprintf("On a break from `%s` after %s of work", task.Name, task.Elapsed())
	})
}

func (a *app) backCmd() *cobra.Command {
	return a.updateCmd("back", "Resume the paused task", model.StateBack, func(task model.Task) string {
		return fmt.Sprintf("Back on `%s`", task.Name)
	})
}

func (a *app) doneCmd() *cobra.Command {
	return a.updateCmd("done", "Finish the current task", model.StateEnd, func(task model.Task) string {
		return fmt.Sprintf("Finished `%s`, worked %s", task.Name, task.Elapsed())
	})
}

func (a *app) updateCmd(use, short string, state model.TaskState, describe func(model.Task) string) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := a.userKey()
			if err != nil {
				return err
			}
			task, err := a.client.Update(withContext(cmd), key, state)
			if err != nil {
				return err
			}
			a.remember(task)
			fmt.Fprintln(cmd.OutOrStdout(), describe(task))
			return nil
		},
	}
}

func (a *app) checkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Show the last known task without contacting the service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			task, ok, err := a.cache.Load()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if !ok {
				fmt.Fprintln(out, "Nothing tracked yet")
				return nil
			}
			fmt.Fprintln(out, describeTask(task, time.Now()))
			return nil
		},
	}
}

func describeTask(task model.Task, now time.Time) string {
	switch task.State {
	case model.StateBegin:
		return fmt.Sprintf("Working on `%s` since %s", task.Name, humanize.RelTime(task.BeginTime, now, "ago", "from now"))
	case model.StateBack:
		return fmt.Sprintf("Working on `%s`, resumed %s", task.Name, humanize.RelTime(task.BeginTime, now, "ago", "from now"))
	case model.StateBreak:
		return fmt.Sprintf("On a break from `%s` since %s", task.Name, humanize.RelTime(task.EndTime, now, "ago", "from now"))
	case model.StateEnd:
		return fmt.Sprintf("Finished `%s` %s after %s", task.Name, humanize.RelTime(task.EndTime, now, "ago", "from now"), task.Elapsed())
	}
	return "Not working on anything"
}

func (a *app) logCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "log",
		Short: "Browse the task log in a terminal UI",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := a.userKey()
			if err != nil {
				return err
			}
			ctx := withContext(cmd)
			return tui.Run(key, func() ([]model.Task, error) {
				return a.client.TaskLog(ctx, key)
			})
		},
	}
}

func (a *app) watchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Print the current task every time it changes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := a.userKey()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(withContext(cmd), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			out := cmd.OutOrStdout()
			return a.client.Watch(ctx, key, func(record model.UserRecord) error {
				a.remember(record.CurrentTask)
				fmt.Fprintf(out, "%s  %s\n", time.Now().Format("15:04:05"), describeTask(record.CurrentTask, time.Now()))
				return nil
			})
		},
	}
}

func (a *app) resetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Clear the task history of the current user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := a.userKey()
			if err != nil {
				return err
			}
			record, err := a.client.Reset(withContext(cmd), key)
			if err != nil {
				return err
			}
			if err := a.cache.Clear(); err != nil {
				logger.CLI.Warn("clear task cache", "error", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Reset %s\n", model.DeriveKey(model.RoleUser, record.UserName, record.ID))
			return nil
		},
	}
}

func (a *app) recordsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "records",
		Short: "List every registered user and what they are doing",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			records, err := a.client.Records(withContext(cmd))
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(records) == 0 {
				fmt.Fprintln(out, "No users registered")
				return nil
			}
			for _, record := range records {
				fmt.Fprintf(out, "%04d  %-16s %-5s %-24s %s sessions\n",
					record.ID, record.UserName, record.CurrentTask.State, record.CurrentTask.Name,
					humanize.Comma(int64(len(record.TaskHistory))))
			}
			return nil
		},
	}
}

// remember caches task for `check`; failures only cost the offline view.
func (a *app) remember(task model.Task) {
	if err := a.cache.Save(task); err != nil {
		logger.CLI.Warn("save task cache", "error", err)
	}
}
