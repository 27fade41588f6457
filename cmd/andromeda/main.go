// Command andromeda runs JavaScript/TypeScript modules against the
// runtime's extension surface (networking, virtual filesystem, SQLite,
// FFI, HTTP cache storage).
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
