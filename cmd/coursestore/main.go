// Command coursestore 运行课程文件服务：文件接口、对象访问层与同源存储代理。
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/wyfcoding/coursestore/app"
)

var version = "dev"

func main() {
	conf := flag.String("conf", "./configs/coursestore/config.toml", "path to config file")
	flag.Parse()

	a, _, err := app.NewBuilder("coursestore").
		WithConfigPath(*conf).
		WithVersion(version).
		Build()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if err := a.Run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
