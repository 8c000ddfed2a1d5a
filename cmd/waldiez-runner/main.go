// Command waldiez-runner runs waldiez flows on a Jupyter kernel or a local
// python process and chats with them in the terminal.
package main

import (
	"context"
	"fmt"
	"os"
)

func main() {
	a := newApp(os.Stdin, os.Stdout, os.Stderr)
	if err := newRootCmd(a).ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
