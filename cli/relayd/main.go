package main

import (
	"fmt"
	"os"

	relaydcmder "github.com/prismgate/relay/cmd/relayd"
)

func main() {
	cmd := relaydcmder.NewRelaydCmd()

	err := cmd.Execute()
	if err != nil {
		fmt.Printf("Error executing root command: %v\n", err)
		os.Exit(1)
	}
}
