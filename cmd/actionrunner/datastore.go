package main

import (
	"errors"
	"fmt"

	"github.com/bytedance/sonic"
	"github.com/deixis/actionrunner/internal/packconfig"
	"github.com/spf13/cobra"
)

var errMemoryDatastore = errors.New("the memory datastore does not persist between invocations; set datastore.driver to redis")

func newDatastoreCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "datastore",
		Short: "Manage pack config overrides",
		Long: `Manage the datastore overrides merged into a pack's configuration.

Overrides are global unless --user is given. User overrides take precedence
over global ones, which take precedence over the pack's config.yaml.`,
	}
	cmd.AddCommand(newDatastoreSetCmd(g), newDatastoreGetCmd(g), newDatastoreDeleteCmd(g))
	return cmd
}

func openPersistentStore(g *globalFlags) (*app, error) {
	a, err := newApp(g, appOptions{})
	if err != nil {
		return nil, err
	}
	if _, ok := a.store.(*packconfig.MemoryStore); ok {
		a.Close()
		return nil, errMemoryDatastore
	}
	return a, nil
}

func newDatastoreSetCmd(g *globalFlags) *cobra.Command {
	var user string
	var secret bool
	cmd := &cobra.Command{
		Use:   "set <pack> <key> <value>",
		Short: "Store a config override",
		Long: `Store a config override. The value is decoded as JSON when it parses and
stored as a string otherwise. Secret values must be strings and are
encrypted with the configured crypto key.`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openPersistentStore(g)
			if err != nil {
				return err
			}
			defer a.Close()

			var value any = args[2]
			if !secret {
				var v any
				if err := sonic.UnmarshalString(args[2], &v); err == nil {
					value = v
				}
			}
			return packconfig.Put(cmd.Context(), a.store, a.cipher, args[0], args[1], user, value, secret)
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "scope the override to a user")
	cmd.Flags().BoolVar(&secret, "secret", false, "encrypt the value")
	return cmd
}

func newDatastoreGetCmd(g *globalFlags) *cobra.Command {
	var user string
	var decrypt bool
	cmd := &cobra.Command{
		Use:   "get <pack> <key>",
		Short: "Print a config override",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openPersistentStore(g)
			if err != nil {
				return err
			}
			defer a.Close()

			item, err := a.store.Get(cmd.Context(), args[0], args[1], user)
			if err != nil {
				return err
			}
			if item == nil {
				return fmt.Errorf("no override for %s.%s", args[0], args[1])
			}
			value := item.Value
			if item.Secret {
				if !decrypt {
					fmt.Fprintln(cmd.OutOrStdout(), "********")
					return nil
				}
				if a.cipher == nil {
					return errors.New("no crypto key configured")
				}
				ref, _ := item.Value.(string)
				value, err = a.cipher.Decrypt(ref)
				if err != nil {
					return err
				}
			}
			fmt.Fprintln(cmd.OutOrStdout(), formatValue(value))
			return nil
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "read the user scoped override")
	cmd.Flags().BoolVar(&decrypt, "decrypt", false, "print secret values in clear")
	return cmd
}

func newDatastoreDeleteCmd(g *globalFlags) *cobra.Command {
	var user string
	cmd := &cobra.Command{
		Use:   "delete <pack> <key>",
		Short: "Remove a config override",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openPersistentStore(g)
			if err != nil {
				return err
			}
			defer a.Close()
			return a.store.Delete(cmd.Context(), args[0], args[1], user)
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "remove the user scoped override")
	return cmd
}
