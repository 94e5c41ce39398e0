package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ehrlich-b/switchboard/internal/alert"
	"github.com/ehrlich-b/switchboard/internal/config"
	"github.com/ehrlich-b/switchboard/internal/daemon"
	"github.com/ehrlich-b/switchboard/internal/logger"
	"github.com/ehrlich-b/switchboard/internal/roster"
)

var version = "dev"

func main() {
	root := &cobra.Command{
		Use:   "switchboard",
		Short: "switchboard: chat directory sync engine",
		Long:  "Keeps a dispatcher/session contact hierarchy in sync over the relay: discovery, push notifications and archive backfill folded into one consistent view.",
	}

	root.AddCommand(
		runCmd(),
		initCmd(),
		alertCmd(),
		versionCmd(),
	)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func runCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Connect to the relay and stream directory events",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			log, err := logger.Init(cfg.Logging.Level, cfg.Logging.File)
			if err != nil {
				return err
			}
			return daemon.Run(cfg, log, printEvent)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "switchboard.yaml", "config file path")
	return cmd
}

// printEvent renders one roster event per line. Runs on the engine loop,
// so it stays cheap.
func printEvent(ev roster.Event) {
	switch ev.Kind {
	case roster.EventDispatchers:
		names := make([]string, 0, len(ev.Dispatchers))
		for _, e := range ev.Dispatchers {
			names = append(names, e.Name())
		}
		fmt.Printf("dispatchers: %s\n", strings.Join(names, ", "))
	case roster.EventSessions:
		names := make([]string, 0, len(ev.Sessions))
		for _, e := range ev.Sessions {
			if e.Closed {
				names = append(names, e.Name()+" (closed)")
			} else {
				names = append(names, e.Name())
			}
		}
		fmt.Printf("sessions: %s\n", strings.Join(names, ", "))
	case roster.EventSelection:
		fmt.Printf("selected: dispatcher=%s session=%s\n", ev.DispatcherID, ev.SessionID)
	case roster.EventTarget:
		fmt.Printf("target: %s\n", ev.Target.Address)
	case roster.EventFlags:
		fmt.Printf("flags: loading=%v loaded_once=%v\n", ev.LoadingSessions, ev.LoadedOnce)
	case roster.EventIndicators:
		for d, ind := range ev.Indicators {
			fmt.Printf("indicator: %s unread=%d composing=%v\n", d, ind.Unread, ind.Composing)
		}
	}
}

const starterConfig = `relay:
  url: "wss://relay.example.net/ws"
  token: ""          # or set SWITCHBOARD_TOKEN
directory:
  service: "directory.example.net"
  # notify defaults to "notify." + service
archive:
  history_limit: 50  # 10..200
  probe_limit: 1     # 1..5
  history_workers: 1 # 1..4
  probe_workers: 1   # 1..4
database:
  path: "switchboard.db"
alerts:
  topic: ""            # ntfy topic or full URL; empty disables push alerts
  token: ""
logging:
  level: "info"
`

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a starter config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			const path = "switchboard.yaml"
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(starterConfig), 0644); err != nil {
				return err
			}
			fmt.Printf("wrote %s\n", path)
			return nil
		},
	}
}

func alertCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "alert",
		Short: "Send a test push alert",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			log, err := logger.Init(cfg.Logging.Level, cfg.Logging.File)
			if err != nil {
				return err
			}
			n := alert.New(log, cfg.Alerts.Topic, cfg.Alerts.Token)
			if err := n.Test(); err != nil {
				return err
			}
			fmt.Println("alert sent")
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "switchboard.yaml", "config file path")
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	}
}
