package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"pookie/internal/app"
	"pookie/internal/config"
	"pookie/internal/feedback"
	"pookie/internal/notifications"
	"pookie/internal/storage"
)

func newValidateCmd(f *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the config file and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfgm, err := loadConfig(f)
			if err != nil {
				return err
			}
			sections, _ := config.SummarizeConfigChange(nil, cfgm.Get())
			fmt.Fprintf(cmd.OutOrStdout(), "config ok: %s (%s)\n", f.configPath, strings.Join(sections, ", "))
			return nil
		},
	}
}

var feedbackActions = map[string]func(*feedback.Manager, context.Context) error{
	"button-press":  (*feedback.Manager).ButtonPress,
	"task-complete": (*feedback.Manager).TaskComplete,
	"level-up":      (*feedback.Manager).LevelUp,
	"achievement":   (*feedback.Manager).Achievement,
	"error":         (*feedback.Manager).Error,
	"warning":       (*feedback.Manager).Warning,
}

func feedbackKinds() []string {
	out := make([]string, 0, len(feedbackActions))
	for k := range feedbackActions {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func newFeedbackCmd(f *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:       "feedback <kind>",
		Short:     "Play a feedback preset (" + strings.Join(feedbackKinds(), ", ") + ")",
		Args:      cobra.ExactArgs(1),
		ValidArgs: feedbackKinds(),
		RunE: func(cmd *cobra.Command, args []string) error {
			play, ok := feedbackActions[args[0]]
			if !ok {
				return fmt.Errorf("unknown feedback kind %q (want one of %s)", args[0], strings.Join(feedbackKinds(), ", "))
			}
			return withApp(cmd, f, func(ctx context.Context, a *app.App) error {
				return play(a.Feedback(), ctx)
			})
		},
	}
}

func newRemindCmd(f *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "remind <HH:MM>",
		Short: "Schedule the repeating daily task reminder",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, f, func(ctx context.Context, a *app.App) error {
				warnVolatile(cmd.ErrOrStderr(), a)
				rec, err := a.Scheduler().ScheduleTaskReminder(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\tdaily at %s\n", rec.ID, rec.Time)
				return nil
			})
		},
	}
}

const dateLayout = "2006-01-02"

type eventFlags struct {
	name       string
	title      string
	body       string
	date       string
	at         string
	daysBefore int
	id         string
	tz         string
}

func newEventCmd(f *rootFlags) *cobra.Command {
	ef := &eventFlags{}
	cmd := &cobra.Command{
		Use:   "event",
		Short: "Schedule a one-shot reminder for an upcoming event",
		Long: `Schedule a one-shot reminder for an upcoming event.

With --name the title and body are generated from the event name and how far
ahead the reminder fires. --title/--body set them verbatim instead.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, f, func(ctx context.Context, a *app.App) error {
				tz := ef.tz
				if tz == "" {
					tz = a.Config().Notifications.Timezone
				}
				n, err := ef.notification(tz)
				if err != nil {
					return err
				}
				warnVolatile(cmd.ErrOrStderr(), a)
				rec, err := a.Scheduler().ScheduleEventNotification(ctx, n)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", rec.ID, rec.Date.Format(time.RFC3339), rec.Title)
				return nil
			})
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&ef.name, "name", "", "event name (generates title and body)")
	fl.StringVar(&ef.title, "title", "", "notification title")
	fl.StringVar(&ef.body, "body", "", "notification body")
	fl.StringVar(&ef.date, "date", "", "event date (YYYY-MM-DD) or exact time (RFC3339)")
	fl.StringVar(&ef.at, "at", "09:00", "time of day the reminder fires (HH:MM)")
	fl.IntVar(&ef.daysBefore, "days-before", 0, "fire this many days before the event")
	fl.StringVar(&ef.id, "id", "", "event id carried in the notification data")
	fl.StringVar(&ef.tz, "tz", "", "IANA timezone for --date (default: notifications.timezone)")
	_ = cmd.MarkFlagRequired("date")
	cmd.MarkFlagsOneRequired("name", "title")
	cmd.MarkFlagsMutuallyExclusive("name", "title")
	return cmd
}

// notification resolves the flags into the reminder to schedule.
func (ef *eventFlags) notification(tz string) (notifications.EventNotification, error) {
	if ef.daysBefore < 0 {
		return notifications.EventNotification{}, fmt.Errorf("--days-before must be >= 0")
	}
	loc := time.Local
	if tz != "" {
		var err error
		if loc, err = time.LoadLocation(tz); err != nil {
			return notifications.EventNotification{}, fmt.Errorf("timezone %q: %w", tz, err)
		}
	}

	var eventDay, fireAt time.Time
	if t, err := time.Parse(time.RFC3339, ef.date); err == nil {
		eventDay = t.In(loc)
		fireAt = eventDay.AddDate(0, 0, -ef.daysBefore)
	} else {
		d, err := time.ParseInLocation(dateLayout, ef.date, loc)
		if err != nil {
			return notifications.EventNotification{}, fmt.Errorf("--date: want YYYY-MM-DD or RFC3339, got %q", ef.date)
		}
		hour, minute, err := notifications.ParseTimeOfDay(ef.at)
		if err != nil {
			return notifications.EventNotification{}, fmt.Errorf("--at: %w", err)
		}
		eventDay = d
		fireAt = time.Date(d.Year(), d.Month(), d.Day()-ef.daysBefore, hour, minute, 0, 0, loc)
	}

	n := notifications.EventNotification{
		Title:   ef.title,
		Body:    ef.body,
		Date:    fireAt,
		EventID: ef.id,
	}
	if ef.name != "" {
		n.Title, n.Body, n.HighPriority = notifications.EventReminderText(ef.name, ef.daysBefore, eventDay.Format("Jan 2"))
	}
	return n, nil
}

func newPendingCmd(f *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "pending",
		Short: "List notifications waiting in the store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, f, func(ctx context.Context, a *app.App) error {
				if a.Store() == nil {
					return fmt.Errorf("storage is disabled; nothing is persisted")
				}
				pending, err := a.Store().ListPending(ctx)
				if err != nil {
					return err
				}
				return printPending(cmd.OutOrStdout(), pending)
			})
		},
	}
}

func printPending(w io.Writer, pending []storage.Pending) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTRIGGER\tWHEN\tTITLE")
	for _, p := range pending {
		when := p.At.Format(time.RFC3339)
		if p.Trigger == storage.TriggerDaily {
			when = "daily " + notifications.FormatTimeOfDay(p.Hour, p.Minute)
		}
		var c notifications.Content
		_ = json.Unmarshal(p.Payload, &c)
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", p.ID, p.Trigger, when, c.Title)
	}
	return tw.Flush()
}

func newCancelCmd(f *rootFlags) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "cancel [id]",
		Short: "Cancel one pending notification, or all with --all",
		Args: func(cmd *cobra.Command, args []string) error {
			if all {
				return cobra.NoArgs(cmd, args)
			}
			return cobra.ExactArgs(1)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, f, func(ctx context.Context, a *app.App) error {
				if all {
					return a.Scheduler().CancelAllNotifications(ctx)
				}
				return a.Scheduler().CancelNotification(ctx, args[0])
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "cancel every pending notification")
	return cmd
}

// warnVolatile tells the user when a scheduled notification will not outlive
// this process.
func warnVolatile(w io.Writer, a *app.App) {
	switch a.Store().(type) {
	case nil:
		fmt.Fprintln(w, "warning: storage is disabled; the notification is not persisted for the daemon")
	case *storage.Memory:
		fmt.Fprintln(w, "warning: storage driver is memory; the notification is not persisted for the daemon")
	}
}
