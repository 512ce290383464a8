// Command fruitnet trains and evaluates the fresh / rotten fruit image classifier.
package main

import (
	"context"
	"os"

	// default worker thread count follows the container CPU quota
	_ "go.uber.org/automaxprocs"
)

func main() {
	if err := NewRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
