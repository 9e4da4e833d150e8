// Package main 是 PingSpot 命令行客户端入口。
package main

import (
	"fmt"
	"os"
)

func main() {
	app := App()
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
