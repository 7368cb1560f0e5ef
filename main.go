package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/modkit/modkit/internal/cli"
)

var (
	stdOut io.Writer = os.Stdout
	stdErr io.Writer = os.Stderr
)

func main() {
	os.Exit(run(os.Args[1:]))
}

// run 执行一次 CLI 调用并返回退出码，方便测试注入输出与参数。
func run(args []string) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return cli.Execute(ctx, args, stdOut, stdErr)
}
