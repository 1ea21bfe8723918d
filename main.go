package main

import "blockerbot/internal/app"

func main() {
	app.Main()
}
