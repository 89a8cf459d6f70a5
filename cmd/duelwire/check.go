package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/danmuck/duelwire/internal/config"
	"github.com/danmuck/duelwire/internal/definitions"
	"github.com/danmuck/duelwire/internal/protocol/proto"
	"github.com/spf13/cobra"
)

var checkDefinitions string

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Compile protocol definitions and print struct sizes",
	Long: `Load and compile the definitions directory. Without --definitions the
directory named by the config file is used.`,
	Args: cobra.NoArgs,
	RunE: runCheck,
}

func init() {
	rootCmd.AddCommand(checkCmd)
	checkCmd.Flags().StringVar(&checkDefinitions, "definitions", "", "definitions directory")
}

func definitionsDir() (string, error) {
	if checkDefinitions != "" {
		return checkDefinitions, nil
	}
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return "", err
	}
	return cfg.Definitions, nil
}

func runCheck(cmd *cobra.Command, _ []string) error {
	dir, err := definitionsDir()
	if err != nil {
		return err
	}
	catalog, err := definitions.Catalog(dir)
	if err != nil {
		return err
	}

	out := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(out, "STRUCT\tSIZE")
	for _, name := range catalog.StructNames() {
		st, _ := catalog.Struct(name)
		fmt.Fprintf(out, "%s\t%d\n", name, st.Size())
	}
	fmt.Fprintln(out)
	fmt.Fprintln(out, "COMMAND\tID\tSTRUCT")
	for _, dir := range proto.Directions() {
		for _, command := range catalog.Protos().Commands(dir) {
			id, _ := catalog.Protos().ID(dir, command)
			structName := "-"
			if st, ok := catalog.StructFor(dir, command); ok {
				structName = st.Name()
			}
			fmt.Fprintf(out, "%s_%s\t%d\t%s\n", dir, command, id, structName)
		}
	}
	return out.Flush()
}
