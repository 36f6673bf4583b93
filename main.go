package main

import (
	"fmt"
	"os"

	huddle "github.com/huddlenet/huddle/app"
)

func main() {
	if err := huddle.LoadDotEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "load .env: %v\n", err)
		os.Exit(1)
	}

	app := huddle.New(nil, nil)
	app.Start()
}
