//	@title			kbchat API
//	@version		1.0
//	@description	Knowledge base chat: document ingestion, semantic search and grounded answers

//	@BasePath	/api/v0

//	@tag.name			knowledge
//	@tag.description	Ingestion, retrieval and chat over the knowledge base

//	@tag.name			health
//	@tag.description	Operational endpoints for monitoring and health

package main

import (
	"os"

	"github.com/compozy/kbchat/cli"
)

func main() {
	os.Exit(cli.Execute())
}
