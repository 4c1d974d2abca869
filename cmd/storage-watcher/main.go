package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/moctezuma-dev/zappy-back/storagewatcher"
)

func main() {
	once := flag.Bool("once", false, "Scan the bucket once and exit")
	flag.Parse()

	if err := storagewatcher.Run(*once); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
