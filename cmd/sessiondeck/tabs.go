package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"pkt.systems/sessiondeck/internal/appconfig"
	"pkt.systems/sessiondeck/internal/persist"
)

func newTabsCmd() *cobra.Command {
	var cfgPath string
	var profile string
	cmd := &cobra.Command{
		Use:   "tabs",
		Short: "Show the persisted tabs for a profile",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := appconfig.Load(cfgPath)
			if err != nil {
				return err
			}
			if profile == "" {
				profile = cfg.Deck.Profile
			}
			store, err := persist.NewStore(cfg.StateDir)
			if err != nil {
				return err
			}
			snapshot, ok, err := store.Load(profile)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if !ok {
				_, err := fmt.Fprintf(out, "no saved state for profile %s\n", profile)
				return err
			}
			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			_, _ = fmt.Fprintln(w, "ID\tKIND\tTITLE\tSERVER\tACTIVE")
			for _, tab := range snapshot.Tabs {
				active := ""
				if tab.ID == snapshot.ActiveTab {
					active = "*"
				}
				_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", tab.ID, tab.Kind, tab.Title, tab.ServerID, active)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			_, err = fmt.Fprintf(out, "sidebar open: %t\n", snapshot.SidebarOpen)
			return err
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "path to config file")
	cmd.Flags().StringVar(&profile, "profile", "", "override deck.profile")
	return cmd
}
