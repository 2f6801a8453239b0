package main

import (
	app "drivearchive/cmd/drivearchive"
)

func main() {
	app.Main()
}
