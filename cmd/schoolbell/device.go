package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli"

	"schoolbell/internal/app"
)

var deviceCommand = cli.Command{
	Name:  "device",
	Usage: "show the device id and activation state",
	Action: func(c *cli.Context) error {
		return viewOffline(c, func(_ context.Context, o *app.Offline) error {
			state := "not activated"
			if o.Activation.Activated() {
				state = "activated"
			}
			fmt.Printf("Device: %s\nState: %s\n", o.Activation.DeviceID(), state)
			if o.Config.Activation.Required && !o.Activation.Activated() {
				fmt.Println("Bells stay silent until the device is activated.")
			}
			return nil
		})
	},
}

var activateCommand = cli.Command{
	Name:      "activate",
	Usage:     "activate this device with a code",
	ArgsUsage: "CODE",
	Action: func(c *cli.Context) error {
		if err := needArgs(c, 1); err != nil {
			return err
		}
		return editOffline(c, func(ctx context.Context, o *app.Offline) error {
			if err := o.Activation.Activate(ctx, c.Args().First()); err != nil {
				return err
			}
			fmt.Println("Device activated.")
			return nil
		})
	},
}
