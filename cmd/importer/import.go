package main

import (
	"encoding/json"
	"errors"

	"github.com/spf13/cobra"
)

func importCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import [path]",
		Short: "Import one batch file (defaults to CSV_PATH) and publish its events",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			path := a.cfg.CSVPath
			if len(args) == 1 {
				path = args[0]
			}
			if path == "" {
				return errors.New("no batch file: pass a path or set CSV_PATH")
			}

			result, err := a.importService().Run(ctx, path)
			if err != nil {
				return err
			}
			return json.NewEncoder(cmd.OutOrStdout()).Encode(result)
		},
	}
}
