package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var charactersCmd = &cobra.Command{
	Use:   "characters",
	Short: "List configured characters",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
		defer cancel()

		chars, err := client.listCharacters(ctx)
		if err != nil {
			return err
		}
		if len(chars) == 0 {
			fmt.Println("no characters configured")
			return nil
		}
		for _, c := range chars {
			fmt.Printf("%s  %s\n", c.ID, c.Name)
		}
		return nil
	},
}

var chatsCmd = &cobra.Command{
	Use:   "chats",
	Short: "List chats",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
		defer cancel()

		chats, err := client.listChats(ctx)
		if err != nil {
			return err
		}
		if len(chats) == 0 {
			fmt.Println("no chats")
			return nil
		}
		for _, c := range chats {
			title := c.Title
			if title == "" {
				title = "(untitled)"
			}
			fmt.Printf("%s  %s  updated %s\n", c.ID, title, c.UpdatedAt.Format(time.RFC3339))
		}
		return nil
	},
}

var sendCmd = &cobra.Command{
	Use:   "send <chat-id> <message>",
	Short: "Send a message to a chat and print the reply",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		msg, err := client.submitTurn(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}
		fmt.Println(msg.Content)
		return nil
	},
}
