// Package main is the entry point for the chatrelay bot.
//
// Usage:
//
//	chatrelay [flags] <command>
//
// Commands:
//
//	run        - Connect to the chat bridge and answer messages
//	simulate   - Feed a scripted conversation through the bot offline
//	config     - Show or validate the configuration
//	version    - Show version information
package main

import (
	"fmt"
	"os"

	"github.com/haivivi/chatrelay/cmd/chatrelay/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
