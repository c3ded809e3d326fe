package main

import (
	"fmt"
	"os"

	"github.com/recordum/recordum/internal/common/logtrace"
)

func init() {
	logtrace.InitLogger("recordsrv")
}

func main() {
	cmd := newRootCmd()
	if err := cmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
