// Command doipgw is a DoIP (ISO 13400-2) diagnostic gateway.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/vehicledx/doipgw/cmd/doipgw"
)

// Exit codes: 0 clean stop, 1 setup failure (bad config, socket bind),
// 2 runtime fatal (unrecoverable transport error after the gateway was
// already serving), following original_source/src/main.cpp's
// convention.
func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "doipgw: %v\n", err)
		var fatal *cmd.RuntimeFatalError
		if errors.As(err, &fatal) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}
