// This program performs administrative tasks against the database of a
// stopped node.
package main

import (
	"fmt"
	"os"

	"github.com/btn-network/blockchain/app/tooling/admin/commands"
	"github.com/btn-network/blockchain/foundation/logger"
	"go.uber.org/zap"
)

// build is the git version of this program. It is set using build flags in the makefile.
var build = "develop"

func main() {

	// Construct the application logger. Logs go to stderr so command output
	// stays clean on stdout.
	log, err := logger.New("ADMIN", "stderr")
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	defer log.Sync()

	// Perform the command.
	if err := run(log); err != nil {
		log.Errorw("admin", "ERROR", err)
		log.Sync()
		os.Exit(1)
	}
}

func run(log *zap.SugaredLogger) error {
	root := commands.NewRoot(log)
	root.Version = build

	return root.Execute()
}
