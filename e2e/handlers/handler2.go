//go:build ignore

package main

import "github.com/trufnetwork/lambda-e2e/examples/lambdafn"

func main() {
	lambdafn.Start(lambdafn.Reply("second lambda"))
}
