package main

import (
	_ "go.uber.org/automaxprocs"

	"github.com/autopeer-io/athena/cmd/athena/app"
)

func main() {
	app.NewApp().Run()
}
