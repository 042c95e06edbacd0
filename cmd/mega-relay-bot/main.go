package main

import "mega-relay-bot/cmd/mega-relay-bot/cmd"

func main() {
	cmd.Execute()
}
