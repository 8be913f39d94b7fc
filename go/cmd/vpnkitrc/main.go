package main

import (
	"os"
)

// Manipulate the port forwards of a running vpnkit
func main() {
	if err := newRootCmd().Execute(); err != nil {
		// cobra has already printed the error
		os.Exit(1)
	}
}
