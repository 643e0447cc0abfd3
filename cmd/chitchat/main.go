package main

import (
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/chitchat-app/chitchat/internal/client"
	"github.com/chitchat-app/chitchat/internal/store"
	"github.com/chitchat-app/chitchat/internal/transport"
)

func main() {
	var configPath, serverURL string

	root := &cobra.Command{
		Use:          "chitchat",
		Short:        "Terminal client for ChitChat servers",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath, serverURL)
		},
	}
	root.Flags().StringVar(&configPath, "config", "", "path to configuration file")
	root.Flags().StringVar(&serverURL, "server", "", "server URL (overrides config)")

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(configPath, serverURL string) error {
	cfg, err := client.LoadConfig(configPath)
	if err != nil {
		return err
	}
	if serverURL != "" {
		cfg.ActiveServer = serverURL
	}

	statePath, err := cfg.StatePath()
	if err != nil {
		return err
	}
	st, err := store.Open(statePath)
	if err != nil {
		return err
	}
	defer st.Close()

	// Input injection needs the desktop shell; the terminal client
	// participates in remote control as a controller only.
	c := client.New(cfg, st, transport.NewDialer(nil), nil)
	defer c.Shutdown()

	if cfg.ActiveServer != "" {
		if err := c.SwitchServer(cfg.ActiveServer); err != nil {
			return err
		}
	}

	p := tea.NewProgram(client.NewApp(c), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("failed to run UI: %w", err)
	}
	return nil
}
