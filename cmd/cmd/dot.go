// Copyright © 2021 Jonathan Whitaker <jonathan@whitaker.io>

package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/ttg-go/ttg"
)

// dotCmd represents the dot command
var dotCmd = &cobra.Command{
	Use:   "dot",
	Short: "dot - prints the registered graph as Graphviz DOT source",
	Long: `dot - prints the registered graph as Graphviz DOT source

	Dashed boxes are nodes MakeGraphExecutable has not yet reached from a
	seed; solid boxes are executable. Pipe the output to "dot -Tsvg" to
	render it.
	`,
	Run: func(cmd *cobra.Command, args []string) {
		rt := ttg.NewRuntime()
		fmt.Fprint(os.Stdout, ttg.Dot(rt.Nodes()))
	},
}

func init() {
	rootCmd.AddCommand(dotCmd)
}
