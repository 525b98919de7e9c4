package main

import (
	"context"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli"

	"schoolbell/internal/app"
)

const maxClipBytes = 20 << 20

var audioCommand = cli.Command{
	Name:    "audio",
	Aliases: []string{"a"},
	Usage:   "manage stored audio clips",
	Action:  listAudio,
	Subcommands: []cli.Command{
		{Name: "list", Usage: "list clips", Action: listAudio},
		{
			Name:      "add",
			Usage:     "store an audio file",
			ArgsUsage: "FILE",
			Flags:     []cli.Flag{cli.StringFlag{Name: "name, n", Usage: "clip name (defaults to the file name)"}},
			Action:    addAudio,
		},
		{Name: "rm", Usage: "delete a clip and clear it from every bell", ArgsUsage: "ID", Action: removeAudio},
	},
}

func listAudio(c *cli.Context) error {
	return viewOffline(c, func(_ context.Context, o *app.Offline) error {
		clips := o.Registry.Clips()
		if len(clips) == 0 {
			fmt.Println("No clips stored.")
			return nil
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tTYPE\tADDED")
		for _, cl := range clips {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", cl.ID, cl.Name, cl.MIME, humanize.Time(cl.CreatedAt))
		}
		return w.Flush()
	})
}

func addAudio(c *cli.Context) error {
	if err := needArgs(c, 1); err != nil {
		return err
	}
	path := c.Args().First()
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.Size() > maxClipBytes {
		return fmt.Errorf("%s is %s; the limit is %s", path, humanize.Bytes(uint64(info.Size())), humanize.Bytes(maxClipBytes))
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	name := strings.TrimSpace(c.String("name"))
	if name == "" {
		name = filepath.Base(path)
	}
	kind := audioMIME(path, data)
	if !strings.HasPrefix(kind, "audio/") && kind != "application/ogg" {
		return fmt.Errorf("%s does not look like audio (%s)", path, kind)
	}

	return editOffline(c, func(ctx context.Context, o *app.Offline) error {
		clip, err := o.Registry.AddClip(ctx, name, kind, data)
		if err != nil {
			return err
		}
		fmt.Printf("Saved %s (%s)\nid: %s\n", clip.Name, humanize.Bytes(uint64(len(data))), clip.ID)
		return nil
	})
}

// audioMIME prefers the extension and falls back to content sniffing.
func audioMIME(path string, data []byte) string {
	if t := mime.TypeByExtension(strings.ToLower(filepath.Ext(path))); t != "" {
		if mt, _, err := mime.ParseMediaType(t); err == nil {
			return mt
		}
		return t
	}
	t := http.DetectContentType(data)
	if mt, _, err := mime.ParseMediaType(t); err == nil {
		return mt
	}
	return t
}

func removeAudio(c *cli.Context) error {
	if err := needArgs(c, 1); err != nil {
		return err
	}
	return editOffline(c, func(ctx context.Context, o *app.Offline) error {
		cleared, err := o.Registry.DeleteClip(ctx, c.Args().First())
		if err != nil {
			return err
		}
		fmt.Println("Deleted", c.Args().First())
		if len(cleared) > 0 {
			fmt.Println("Now silent:", strings.Join(cleared, ", "))
		}
		return nil
	})
}

func humanizeUntil(now, then time.Time) string {
	return humanize.RelTime(now, then, "from now", "ago")
}
