// Command leasectl inspects and manipulates leases and guarded documents on a
// file or Redis backend.
//
// Every flag can also be set through the environment with the LEASE_ prefix,
// dashes replaced by underscores (LEASE_REDIS_ADDR), or from .env and
// .env.local in the working directory.
package main

import (
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
