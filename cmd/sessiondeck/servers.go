package main

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"pkt.systems/sessiondeck/internal/appconfig"
	"pkt.systems/sessiondeck/internal/hoststore"
	"pkt.systems/sessiondeck/schema"
)

func newServersCmd() *cobra.Command {
	var cfgPath string
	cmd := &cobra.Command{
		Use:   "servers",
		Short: "Manage stored server records",
	}
	cmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "path to config file")

	cmd.AddCommand(newServersAddCmd(&cfgPath))
	cmd.AddCommand(newServersListCmd(&cfgPath))
	cmd.AddCommand(newServersRemoveCmd(&cfgPath))

	return cmd
}

func openHosts(ctx context.Context, cfgPath string) (*hoststore.Store, appconfig.Config, error) {
	cfg, err := appconfig.Load(cfgPath)
	if err != nil {
		return nil, appconfig.Config{}, err
	}
	store, err := hoststore.Open(ctx, cfg.Hosts.DBPath)
	if err != nil {
		return nil, appconfig.Config{}, err
	}
	return store, cfg, nil
}

func newServersAddCmd(cfgPath *string) *cobra.Command {
	var host string
	var port int
	var username string
	var protocol string
	var tags []string
	cmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Add a server record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, _, err := openHosts(cmd.Context(), *cfgPath)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()
			server, err := store.Add(cmd.Context(), schema.Server{
				Name:     args[0],
				Host:     host,
				Port:     port,
				Username: username,
				Protocol: schema.Protocol(strings.ToLower(protocol)),
				Tags:     tags,
			})
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "added %s (%s)\n", server.Name, server.ID)
			return err
		},
	}
	cmd.Flags().StringVar(&host, "host", "", "hostname or address")
	cmd.Flags().IntVarP(&port, "port", "p", schema.DefaultSSHPort, "port")
	cmd.Flags().StringVarP(&username, "user", "u", "", "login username (required)")
	cmd.Flags().StringVar(&protocol, "protocol", string(schema.ProtocolSSH), "ssh, sftp or ftp")
	cmd.Flags().StringSliceVar(&tags, "tag", nil, "tag (repeatable)")
	return cmd
}

func newServersListCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List server records",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, _, err := openHosts(cmd.Context(), *cfgPath)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()
			servers, err := store.List(cmd.Context())
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			_, _ = fmt.Fprintln(w, "NAME\tADDRESS\tUSER\tPROTOCOL\tTAGS\tID")
			for _, server := range servers {
				_, _ = fmt.Fprintf(w, "%s\t%s:%d\t%s\t%s\t%s\t%s\n",
					server.Name, server.Host, server.Port, server.Username, server.Protocol,
					strings.Join(server.Tags, ","), server.ID)
			}
			return w.Flush()
		},
	}
}

func newServersRemoveCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "rm <id|name>",
		Short: "Remove a server record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, _, err := openHosts(cmd.Context(), *cfgPath)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()
			server, err := store.Resolve(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if err := store.Remove(cmd.Context(), server.ID); err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "removed %s (%s)\n", server.Name, server.ID)
			return err
		},
	}
}
