package main

import (
	"context"
	"fmt"
	"os"

	"github.com/bcnelson/sid/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "sid:", err)
		os.Exit(1)
	}
}
