package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli"

	"schoolbell/internal/app"
	"schoolbell/internal/bell"
	"schoolbell/pkg/logx"
)

var bellFlags = []cli.Flag{
	cli.StringFlag{Name: "time, t", Usage: "time of day, HH:MM"},
	cli.StringFlag{Name: "label, l", Usage: "display label"},
	cli.StringFlag{Name: "days, d", Usage: "\"daily\", \"weekdays\", or a comma list of 0-6 (0 = Sunday) or mon..sun"},
	cli.IntFlag{Name: "repeat, r", Usage: "repeat every N minutes after the base time (0 = once)"},
	cli.StringFlag{Name: "audio, a", Usage: "clip id, or \"none\""},
	cli.BoolFlag{Name: "disabled", Usage: "save the bell switched off"},
}

var bellsCommand = cli.Command{
	Name:    "bells",
	Aliases: []string{"b"},
	Usage:   "list and edit bell schedules",
	Action:  listBells,
	Subcommands: []cli.Command{
		{Name: "list", Usage: "list bells", Action: listBells},
		{Name: "next", Usage: "show the next bell today", Action: nextBell},
		{Name: "set", Usage: "add a bell, or edit bell ID", ArgsUsage: "[ID]", Flags: bellFlags, Action: setBell},
		{Name: "rm", Usage: "delete a bell", ArgsUsage: "ID", Action: removeBell},
		{Name: "toggle", Usage: "switch a bell on or off", ArgsUsage: "ID", Action: toggleBell},
		{Name: "assign", Usage: "assign a clip to a bell (\"none\" clears it)", ArgsUsage: "ID CLIP", Action: assignBell},
	},
}

// viewOffline opens the store for a query. It works while the daemon runs.
func viewOffline(c *cli.Context, fn func(ctx context.Context, o *app.Offline) error) error {
	return openOffline(c, false, fn)
}

// editOffline opens the store for an edit and fails while the daemon runs.
func editOffline(c *cli.Context, fn func(ctx context.Context, o *app.Offline) error) error {
	return openOffline(c, true, fn)
}

func openOffline(c *cli.Context, write bool, fn func(ctx context.Context, o *app.Offline) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	o, err := app.OpenOffline(ctx, c.GlobalString("config"), logx.NewConsole("warn"), write)
	if err != nil {
		return err
	}
	defer o.Close()
	return fn(ctx, o)
}

func needArgs(c *cli.Context, n int) error {
	if c.NArg() < n {
		return fmt.Errorf("usage: %s %s %s", c.App.HelpName, c.Command.FullName(), c.Command.ArgsUsage)
	}
	return nil
}

func listBells(c *cli.Context) error {
	return viewOffline(c, func(_ context.Context, o *app.Offline) error {
		names := clipNames(o)
		return printBells(os.Stdout, o.Registry.Ordered(), names)
	})
}

func printBells(out io.Writer, list []bell.Schedule, clips map[string]string) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTIME\tLABEL\tDAYS\tREPEAT\tAUDIO\tON")
	for _, s := range list {
		repeat := "-"
		if s.Repeats() {
			repeat = strconv.Itoa(s.RepeatInterval) + "m"
		}
		audio := "-"
		if s.HasAudio() {
			audio = s.AudioID
			if name := clips[s.AudioID]; name != "" {
				audio = name
			}
		}
		on := "no"
		if s.Enabled {
			on = "yes"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n", s.ID, s.Time, s.Label, s.Days, repeat, audio, on)
	}
	return w.Flush()
}

func clipNames(o *app.Offline) map[string]string {
	out := map[string]string{}
	for _, c := range o.Registry.Clips() {
		out[c.ID] = c.Name
	}
	return out
}

func nextBell(c *cli.Context) error {
	return viewOffline(c, func(_ context.Context, o *app.Offline) error {
		loc := time.Local
		if tz := o.Config.Scheduler.Timezone; tz != "" {
			var err error
			if loc, err = time.LoadLocation(tz); err != nil {
				return err
			}
		}
		now := time.Now().In(loc)
		next, ok := bell.Project(now, o.Registry.Schedules())
		if !ok {
			fmt.Println("No more bells today.")
			return nil
		}
		fmt.Printf("%s at %s (%s)\n", next.Label(), next.FireTime.Format("15:04"), humanizeUntil(now, next.FireTime))
		return nil
	})
}

func setBell(c *cli.Context) error {
	return editOffline(c, func(ctx context.Context, o *app.Offline) error {
		id := strings.TrimSpace(c.Args().First())
		s, exists := o.Registry.Get(id)
		if !exists {
			s = bell.Schedule{ID: id, Enabled: true, Days: bell.Weekdays()}
		}
		if err := applyBellFlags(c, &s, !exists); err != nil {
			return err
		}
		saved, err := o.Registry.Save(ctx, s)
		if err != nil {
			return err
		}
		fmt.Printf("Saved %s: %s %s (%s)\n", saved.ID, saved.Time, saved.Label, saved.Days)
		return nil
	})
}

func applyBellFlags(c *cli.Context, s *bell.Schedule, isNew bool) error {
	if c.IsSet("time") {
		t, err := bell.ParseTimeOfDay(c.String("time"))
		if err != nil {
			return err
		}
		s.Time = t
	} else if isNew {
		return errors.New("--time is required for a new bell")
	}
	if c.IsSet("label") {
		s.Label = strings.TrimSpace(c.String("label"))
	}
	if c.IsSet("days") {
		days, err := bell.ParseDays(c.String("days"))
		if err != nil {
			return err
		}
		s.Days = days
	}
	if c.IsSet("repeat") {
		s.RepeatInterval = c.Int("repeat")
	}
	if c.IsSet("audio") {
		s.AudioID = strings.TrimSpace(c.String("audio"))
		if strings.EqualFold(s.AudioID, "none") {
			s.AudioID = ""
		}
	}
	if c.IsSet("disabled") {
		s.Enabled = !c.Bool("disabled")
	}
	return nil
}

func removeBell(c *cli.Context) error {
	if err := needArgs(c, 1); err != nil {
		return err
	}
	return editOffline(c, func(ctx context.Context, o *app.Offline) error {
		if err := o.Registry.Delete(ctx, c.Args().First()); err != nil {
			return err
		}
		fmt.Println("Deleted", c.Args().First())
		return nil
	})
}

func toggleBell(c *cli.Context) error {
	if err := needArgs(c, 1); err != nil {
		return err
	}
	return editOffline(c, func(ctx context.Context, o *app.Offline) error {
		s, err := o.Registry.Toggle(ctx, c.Args().First())
		if err != nil {
			return err
		}
		state := "off"
		if s.Enabled {
			state = "on"
		}
		fmt.Printf("%s is now %s\n", s.ID, state)
		return nil
	})
}

func assignBell(c *cli.Context) error {
	if err := needArgs(c, 2); err != nil {
		return err
	}
	clip := c.Args().Get(1)
	if strings.EqualFold(clip, "none") {
		clip = ""
	}
	return editOffline(c, func(ctx context.Context, o *app.Offline) error {
		s, err := o.Registry.Assign(ctx, c.Args().First(), clip)
		if err != nil {
			return err
		}
		if s.HasAudio() {
			fmt.Printf("%s now plays %s\n", s.ID, s.AudioID)
		} else {
			fmt.Printf("%s is now silent\n", s.ID)
		}
		return nil
	})
}
