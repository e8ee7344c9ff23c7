package main

import (
	"mre-backend/cmd/ingestd/commands"
	"mre-backend/lib/serviceutil"
)

func main() {
	commands.ExecuteContext(serviceutil.SignalContext())
}
