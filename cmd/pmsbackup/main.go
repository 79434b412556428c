package main

import (
	"github.com/bagoessprasetyo/property-management-sub001/cmd/pmsbackup/commands"
)

func main() {
	commands.Execute()
}
