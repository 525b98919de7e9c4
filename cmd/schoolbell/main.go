package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli"

	_ "time/tzdata"
)

var version = "dev"

var configFlag = cli.StringFlag{
	Name:   "config, c",
	Usage:  "path to the JSON or YAML config file",
	EnvVar: "SCHOOLBELL_CONFIG",
	Value:  "./schoolbell.yaml",
}

func main() {
	app := cli.App{
		Name:      "schoolbell",
		HelpName:  "schoolbell",
		Usage:     "rings school bells on a weekly timetable",
		Version:   version,
		UsageText: "schoolbell [--config FILE] <command> [arguments...]",
		Flags:     []cli.Flag{configFlag},
		Commands: []cli.Command{
			runCommand,
			bellsCommand,
			audioCommand,
			deviceCommand,
			activateCommand,
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", app.HelpName, err)
		os.Exit(1)
	}
}
