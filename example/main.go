package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	gxserialsession "github.com/Gurux/gxserialsession-go"
	"github.com/charmbracelet/log"
	"github.com/urfave/cli/v3"
)

func main() {
	root := &cli.Command{
		Name:  "gxserialsession",
		Usage: "Exchange data with a serial device and show the traffic log",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "log",
				Usage: "Log level: debug, info, warn, error",
				Value: "warn",
			},
		},
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			level, err := log.ParseLevel(cmd.String("log"))
			if err != nil {
				return ctx, err
			}
			log.SetLevel(level)
			return ctx, nil
		},
		Commands: []*cli.Command{
			portsCmd(),
			termCmd(),
		},
	}

	if err := root.Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}

func portsCmd() *cli.Command {
	return &cli.Command{
		Name:  "ports",
		Usage: "List available serial ports",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			ports, err := gxserialsession.GetPortNames()
			if err != nil {
				return fmt.Errorf("get available serial ports: %w", err)
			}
			if len(ports) == 0 {
				fmt.Println("No serial ports found.")
				return nil
			}
			fmt.Println(strings.Join(ports, "\n"))
			return nil
		},
	}
}
