package main

import "github.com/hasanmiraz/shakespeareChatBot/cmd"

func main() {
	cmd.Execute()
}
