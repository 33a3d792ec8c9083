// Command glucosesim simulates continuous glucose monitors for a set of
// patients, persisting every reading to SQLite and raising threshold alerts.
package main

import "os"

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
