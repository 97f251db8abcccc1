package main

import "github.com/nhle/secondbrain/internal/app"

func main() {
	app.Execute()
}
