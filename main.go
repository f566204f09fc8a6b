// loadgen 是 HTTP 压测流量生成器的入口。
package main

import "yqhp/loadgen/cmd"

func main() {
	cmd.Execute()
}
