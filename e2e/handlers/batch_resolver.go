//go:build ignore

package main

import (
	"github.com/trufnetwork/lambda-e2e/examples/graphql"
	"github.com/trufnetwork/lambda-e2e/examples/lambdafn"
)

var posts = graphql.MemoryStore{
	"1": {Title: "post1"},
	"2": {Title: "post2"},
	"3": {Title: "post3"},
}

func main() {
	lambdafn.Start(graphql.Handler{Store: posts}.Handle)
}
