package main

import (
	"fmt"
	"os"

	"github.com/jessevdk/go-flags"
)

const bin = "git-smart-proxy"

func main() {
	parser := flags.NewNamedParser(bin, flags.Default)
	parser.AddCommand("serve", "Serve repositories over smart HTTP.", "", &CmdServe{})
	parser.AddCommand("version", "Show the version information.", "", &CmdVersion{})

	_, err := parser.Parse()
	if err != nil {
		if err, ok := err.(*flags.Error); ok {
			if err.Type == flags.ErrHelp {
				os.Exit(0)
			}

			parser.WriteHelp(os.Stdout)
			os.Exit(1)
		}

		fmt.Fprintf(os.Stderr, "ERROR: %s", err)
		os.Exit(1)
	}
}
