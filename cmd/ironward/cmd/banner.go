package cmd

import (
	"fmt"
	"io"
)

const banner = `
  _____                __          __            _ 
 |_   _|               \ \        / /           | |
   | |  _ __ ___  _ __  \ \  /\  / /_ _ _ __ __| |
   | | | '__/ _ \| '_ \  \ \/  \/ / _` + "`" + ` | '__/ _` + "`" + ` |
  _| |_| | | (_) | | | |  \  /\  / (_| | | | (_| |
 |_____|_|  \___/|_| |_|   \/  \/ \__,_|_|  \__,_|
                                                  
`

func printBanner(w io.Writer) {
	fmt.Fprintf(w, "\x1b[34m%s\x1b[0m", banner)
	fmt.Fprintf(w, "\x1b[32m  Client Security Core - Version %s\x1b[0m\n\n", Version)
}
