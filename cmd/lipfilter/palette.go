package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var paletteCmd = &cobra.Command{
	Use:   "palette",
	Short: "List the available lipstick shades",
	RunE: func(cmd *cobra.Command, args []string) error {
		palette, err := cfg.Style.Palette()
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "#\tNAME\tSLUG\tHEX")
		fmt.Fprintln(w, "-\t----\t----\t---")
		for i, s := range palette {
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", i+1, s.Name, s.Slug(), s.Hex)
		}
		fmt.Fprintln(w, "0\tnone\tnone\t-")
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(paletteCmd)
}
