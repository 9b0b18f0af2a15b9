package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	root := &cobra.Command{
		Use:   "agent",
		Short: "Headless quanta mining agent",
		Long:  "A headless agent that mines quanta in a replicated-DB voxel world and chats on Twitch, Discord and in-world.",
	}
	root.AddCommand(newRunCmd())
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	})

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
