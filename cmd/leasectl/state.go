package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mirkobrombin/go-lease/v1/storage"
)

var (
	stateCmd = &cobra.Command{
		Use:   "state",
		Short: "Read and write documents guarded by leases",
	}

	stateGetCmd = &cobra.Command{
		Use:   "get [path]",
		Short: "Print the document at a path",
		Args:  cobra.ExactArgs(1),
		RunE:  runStateGet,
	}

	statePutCmd = &cobra.Command{
		Use:   "put [path] [json]",
		Short: "Replace the document at a path while holding its lease",
		Args:  cobra.ExactArgs(2),
		RunE:  runStatePut,
	}

	stateRmCmd = &cobra.Command{
		Use:   "rm [path]",
		Short: "Delete the document at a path while holding its lease",
		Args:  cobra.ExactArgs(1),
		RunE:  runStateRm,
	}
)

func init() {
	stateCmd.AddCommand(stateGetCmd, statePutCmd, stateRmCmd)
}

func validJSON(path string, doc json.RawMessage) error {
	if !json.Valid(doc) {
		return fmt.Errorf("document for %s is not valid JSON", path)
	}
	return nil
}

func openStore() (*storage.Guarded[json.RawMessage], error) {
	var s storage.Store[json.RawMessage]
	if client != nil {
		s = storage.NewRedisStore[json.RawMessage](client, storage.WithValidator(validJSON))
	} else {
		fs, err := storage.NewFileStore[json.RawMessage](viper.GetString("state-dir"), storage.WithValidator(validJSON))
		if err != nil {
			return nil, err
		}
		s = fs
	}
	return storage.NewGuarded(s, locker), nil
}

func runStateGet(cmd *cobra.Command, args []string) error {
	g, err := openStore()
	if err != nil {
		return err
	}
	doc, ok, err := g.Store().Read(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("no document at %s", args[0])
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(doc))
	return nil
}

func runStatePut(cmd *cobra.Command, args []string) error {
	g, err := openStore()
	if err != nil {
		return err
	}
	_, err = g.Update(cmd.Context(), args[0], func(json.RawMessage, bool) (json.RawMessage, error) {
		return json.RawMessage(args[1]), nil
	})
	return err
}

func runStateRm(cmd *cobra.Command, args []string) error {
	g, err := openStore()
	if err != nil {
		return err
	}
	return g.Delete(cmd.Context(), args[0])
}
