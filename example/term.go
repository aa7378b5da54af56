package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/Gurux/gxcommon-go"
	gxserialsession "github.com/Gurux/gxserialsession-go"
	"github.com/charmbracelet/log"
	"github.com/urfave/cli/v3"
	"golang.org/x/text/language"
)

func termCmd() *cli.Command {
	return &cli.Command{
		Name:  "term",
		Usage: "Connect to a serial port, send lines from stdin and print the log",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "YAML settings file",
			},
			&cli.StringFlag{
				Name:    "port",
				Aliases: []string{"S"},
				Usage:   "Port name",
			},
			&cli.IntFlag{
				Name:    "baud",
				Aliases: []string{"b"},
				Usage:   "Baud rate",
			},
			&cli.IntFlag{
				Name:    "data-bits",
				Aliases: []string{"d"},
				Usage:   "Data bits (7, 8)",
			},
			&cli.StringFlag{
				Name:  "stop-bits",
				Usage: "Stop bits (1, 2)",
			},
			&cli.StringFlag{
				Name:    "parity",
				Aliases: []string{"p"},
				Usage:   "Parity (none, even, odd)",
			},
			&cli.StringFlag{
				Name:  "flow",
				Usage: "Flow control (none, hardware)",
			},
			&cli.IntFlag{
				Name:  "buffer-size",
				Usage: "Read buffer size in bytes (64-4096)",
			},
			&cli.IntFlag{
				Name:    "package-timeout",
				Aliases: []string{"w"},
				Usage:   "Join received data arriving within this many milliseconds (0-5000)",
			},
			&cli.StringFlag{
				Name:  "eol",
				Usage: "Line ending appended to sent lines: none, lf, crlf",
				Value: "lf",
			},
			&cli.StringFlag{
				Name:    "trace",
				Aliases: []string{"t"},
				Usage:   "Trace level",
			},
			&cli.StringFlag{
				Name:  "lang",
				Usage: "Language of trace messages",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			settings := gxserialsession.DefaultSettings()
			name := ""
			if path := cmd.String("config"); path != "" {
				var err error
				settings, name, err = gxserialsession.LoadSettingsFile(path)
				if err != nil {
					return fmt.Errorf("load %s: %w", path, err)
				}
			}
			if cmd.IsSet("port") {
				name = cmd.String("port")
			}
			if name == "" {
				return errors.New("no serial port selected; use --port or the port key of --config")
			}
			u, err := settingsFromFlags(cmd)
			if err != nil {
				return err
			}

			session := gxserialsession.NewGXSession()
			session.SetLogger(log.Default())
			if err := session.UpdateSettings(settingsToUpdate(settings)); err != nil {
				return err
			}
			if err := session.UpdateSettings(u); err != nil {
				return err
			}
			if v := cmd.String("lang"); v != "" {
				tag, err := language.Parse(v)
				if err != nil {
					return fmt.Errorf("parse language: %w", err)
				}
				session.Localize(tag)
			}
			if v := cmd.String("trace"); v != "" {
				tl, err := gxcommon.TraceLevelParse(v)
				if err != nil {
					return err
				}
				session.SetTrace(tl)
			}
			eol, err := lineEnding(cmd.String("eol"))
			if err != nil {
				return err
			}
			return runTerminal(ctx, session, gxserialsession.NewGXSerialPort(name), eol)
		},
	}
}

func runTerminal(ctx context.Context, session *gxserialsession.GXSession, t gxserialsession.Transport, eol string) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	session.SetOnLog(func(e gxserialsession.LogEntry) {
		fmt.Println(e)
	})
	session.SetOnTrace(func(s *gxserialsession.GXSession, e gxcommon.TraceEventArgs) {
		log.Debug("trace", "event", e.String())
	})
	session.SetOnMediaStateChange(func(s *gxserialsession.GXSession, e gxcommon.MediaStateEventArgs) {
		log.Info("media state", "state", e.State().String())
	})
	session.SetOnError(func(s *gxserialsession.GXSession, err error) {
		log.Error("session error", "err", err)
	})

	if err := session.Connect(t); err != nil {
		ports, perr := gxserialsession.GetPortNames()
		if perr == nil && len(ports) != 0 {
			log.Info("available serial ports", "ports", strings.Join(ports, ","))
		}
		return err
	}
	defer func() {
		if err := session.Disconnect(); err != nil {
			log.Error("disconnect failed", "err", err)
		}
	}()
	settings, _ := session.ActiveSettings()
	log.Info("connected", "port", t, "settings", settings)

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if !session.IsConnected() {
				return errors.New("connection lost")
			}
			if err := session.SendData(ctx, line+eol); err != nil {
				log.Error("send failed", "err", err)
			}
		}
	}
}

func settingsFromFlags(cmd *cli.Command) (gxserialsession.SettingsUpdate, error) {
	var u gxserialsession.SettingsUpdate
	if cmd.IsSet("baud") {
		u.BaudRate = gxserialsession.Value(gxcommon.BaudRate(cmd.Int("baud")))
	}
	if cmd.IsSet("data-bits") {
		u.DataBits = gxserialsession.Value(cmd.Int("data-bits"))
	}
	if cmd.IsSet("stop-bits") {
		sb, err := gxserialsession.StopBitsParse(cmd.String("stop-bits"))
		if err != nil {
			return u, err
		}
		u.StopBits = &sb
	}
	if cmd.IsSet("parity") {
		parity, err := gxserialsession.ParityParse(cmd.String("parity"))
		if err != nil {
			return u, err
		}
		u.Parity = &parity
	}
	if cmd.IsSet("flow") {
		fc, err := gxserialsession.FlowControlParse(cmd.String("flow"))
		if err != nil {
			return u, err
		}
		u.FlowControl = &fc
	}
	if cmd.IsSet("buffer-size") {
		u.BufferSize = gxserialsession.Value(cmd.Int("buffer-size"))
	}
	if cmd.IsSet("package-timeout") {
		u.PackageTimeout = gxserialsession.Value(cmd.Int("package-timeout"))
	}
	return u, nil
}

func settingsToUpdate(s gxserialsession.Settings) gxserialsession.SettingsUpdate {
	return gxserialsession.SettingsUpdate{
		BaudRate:       &s.BaudRate,
		DataBits:       &s.DataBits,
		StopBits:       &s.StopBits,
		Parity:         &s.Parity,
		FlowControl:    &s.FlowControl,
		BufferSize:     &s.BufferSize,
		PackageTimeout: &s.PackageTimeout,
	}
}

func lineEnding(value string) (string, error) {
	switch strings.ToLower(value) {
	case "none", "":
		return "", nil
	case "lf":
		return "\n", nil
	case "crlf":
		return "\r\n", nil
	}
	return "", fmt.Errorf("invalid line ending: %q", value)
}
