package main

import (
	"fmt"
	"os"

	"github.com/DeLi-Labs/deli-app/cmd/deli_gateway/cmd"
)

func main() {
	if err := cmd.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
