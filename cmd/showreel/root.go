package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"showreel/internal/config"
)

type app struct {
	configPath string
	jsonOut    bool

	cfg    *config.Config
	client *client
}

func (a *app) connect() error {
	cfg, _, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.client = newClient(cfg.API.Bind, cfg.API.Token)
	return nil
}

func (a *app) printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newRootCommand() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:           "showreel",
		Short:         "Manage the video content production pipeline",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "path to config.toml")
	root.PersistentFlags().BoolVar(&a.jsonOut, "json", false, "emit JSON instead of tables")

	root.AddCommand(
		newStatusCommand(a),
		newQueueCommand(a),
		newRecoverCommand(a),
		newNotifyCommand(a),
		newConfigCommand(a),
	)
	return root
}

func newStatusCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon status and queue composition",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.connect(); err != nil {
				return err
			}
			status, err := a.client.Status(cmd.Context())
			if err != nil {
				return err
			}
			if a.jsonOut {
				return a.printJSON(status)
			}
			fmt.Printf("showreeld %s  scheduler=%s  database=%s\n\n",
				status.Version, status.Scheduler, status.Database)
			renderStatusTable(os.Stdout, status)
			return nil
		},
	}
}

func newRecoverCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "recover",
		Short: "Run a recovery sweep now",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.connect(); err != nil {
				return err
			}
			summary, err := a.client.RunRecovery(cmd.Context())
			if err != nil {
				return err
			}
			if a.jsonOut {
				return a.printJSON(summary)
			}
			fmt.Printf("scanned=%d stuck_recovered=%d redispatched=%d retried=%d unrecoverable=%d published=%d\n",
				summary.Scanned, summary.StuckRecovered, summary.Redispatched,
				summary.Retried, summary.Unrecoverable, summary.Published)
			return nil
		},
	}
}

func newNotifyCommand(a *app) *cobra.Command {
	notify := &cobra.Command{
		Use:   "notify",
		Short: "Notification helpers",
	}
	notify.AddCommand(&cobra.Command{
		Use:   "test",
		Short: "Send a test notification",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.connect(); err != nil {
				return err
			}
			if err := a.client.TestNotification(cmd.Context()); err != nil {
				return err
			}
			fmt.Println("test notification sent")
			return nil
		},
	})
	return notify
}

func newConfigCommand(a *app) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration helpers",
	}

	configCmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write a sample config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := a.configPath
			if path == "" {
				path = config.DefaultConfigPath()
			}
			if err := config.WriteSample(path); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	})

	configCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, loaded, err := config.Load(a.configPath)
			if err != nil {
				return err
			}
			if !loaded {
				fmt.Fprintln(os.Stderr, "no config file found, showing defaults")
			}
			return a.printJSON(cfg)
		},
	})
	return configCmd
}
