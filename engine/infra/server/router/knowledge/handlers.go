package knowledgerouter

import (
	"net/http"

	"github.com/compozy/kbchat/engine/infra/server/appstate"
	"github.com/compozy/kbchat/engine/infra/server/router"
	"github.com/compozy/kbchat/engine/knowledge"
	"github.com/compozy/kbchat/engine/knowledge/retriever"
	"github.com/compozy/kbchat/engine/knowledge/uc"
	"github.com/gin-gonic/gin"
)

// Register mounts the knowledge endpoints on the versioned API group.
func Register(group *gin.RouterGroup) {
	group.POST("/ingest", ingestSource)
	group.POST("/chat", chat)
	group.POST("/search", search)
	group.GET("/sources", listSources)
	group.GET("/sources/:source_id", getSource)
	group.DELETE("/sources/:source_id", deleteSource)
	group.POST("/sync", syncRecords)
}

func getState(c *gin.Context) *appstate.State {
	state, err := appstate.GetState(c.Request.Context())
	if err != nil {
		router.RespondProblemWithCode(
			c,
			http.StatusInternalServerError,
			router.ErrInternalCode,
			router.ErrMsgAppStateNotInitialized,
		)
		return nil
	}
	return state
}

// ingestSource handles POST /ingest.
//
// @Summary Ingest a document
// @Description Download, extract, chunk and embed a document, replacing every chunk previously stored for the source.
// @Tags knowledge
// @Accept json
// @Produce json
// @Param payload body knowledgerouter.IngestRequest true "Document to ingest"
// @Success 200 {object} knowledgerouter.IngestResponse "Ingestion completed"
// @Success 202 {object} knowledgerouter.IngestResponse "Ingestion scheduled"
// @Failure 400 {object} router.ProblemDocument "Invalid input"
// @Failure 404 {object} router.ProblemDocument "Source or file not found"
// @Failure 409 {object} router.ProblemDocument "Source already being ingested"
// @Failure 415 {object} router.ProblemDocument "Unsupported format"
// @Failure 422 {object} router.ProblemDocument "Extraction failed or content too short"
// @Failure 502 {object} router.ProblemDocument "Download or embedding failed"
// @Failure 503 {object} router.ProblemDocument "Vector store unavailable"
// @Router /ingest [post]
func ingestSource(c *gin.Context) {
	state := getState(c)
	if state == nil {
		return
	}
	var req IngestRequest
	if !router.BindJSON(c, &req) {
		return
	}
	out, err := state.Ingest.Execute(c.Request.Context(), &uc.IngestInput{
		SourceID: req.SourceID,
		FileName: req.FileName,
		FileURL:  req.FileURL,
		Format:   req.Format,
		Category: req.Category,
		Async:    req.Async,
	})
	if err != nil {
		router.RespondError(c, err)
		return
	}
	resp := IngestResponse{Success: true, ID: out.Source.ID, Chunks: out.Chunks()}
	if req.Async {
		resp.Status = string(knowledge.StatusPending)
		c.JSON(http.StatusAccepted, resp)
		return
	}
	if out.Report != nil {
		resp.Failed = len(out.Report.Failed)
	}
	c.JSON(http.StatusOK, resp)
}

// chat handles POST /chat.
//
// @Summary Answer a question
// @Description Answer a question from the knowledge base, optionally continuing a conversation.
// @Tags knowledge
// @Accept json
// @Produce json
// @Param payload body knowledgerouter.ChatRequest true "Question and history"
// @Success 200 {object} knowledgerouter.ChatResponse "Answer with its sources"
// @Failure 400 {object} router.ProblemDocument "Query missing"
// @Failure 502 {object} router.ProblemDocument "Embedding or generation failed"
// @Failure 503 {object} router.ProblemDocument "Vector store or configuration unavailable"
// @Router /chat [post]
func chat(c *gin.Context) {
	state := getState(c)
	if state == nil {
		return
	}
	var req ChatRequest
	if !router.BindJSON(c, &req) {
		return
	}
	out, err := state.Query.Execute(c.Request.Context(), &uc.QueryInput{
		Query:   req.Query,
		History: historyFromDTO(req.ConversationHistory),
	})
	if err != nil {
		router.RespondError(c, err)
		return
	}
	citations := out.Result.Sources
	if citations == nil {
		citations = []knowledge.Citation{}
	}
	c.JSON(http.StatusOK, ChatResponse{Answer: out.Result.Text, Sources: citations})
}

// search handles POST /search.
//
// @Summary Search the knowledge base
// @Description Return the stored chunks most similar to the query without generating an answer.
// @Tags knowledge
// @Accept json
// @Produce json
// @Param payload body knowledgerouter.SearchRequest true "Search query"
// @Success 200 {object} knowledgerouter.SearchResponse "Matches ordered by score"
// @Failure 400 {object} router.ProblemDocument "Query missing"
// @Router /search [post]
func search(c *gin.Context) {
	state := getState(c)
	if state == nil {
		return
	}
	var req SearchRequest
	if !router.BindJSON(c, &req) {
		return
	}
	matches, err := state.Search.Execute(c.Request.Context(), &uc.SearchInput{
		Query: req.Query,
		Options: retriever.Options{
			TopK:      req.TopK,
			Threshold: req.Threshold,
			SourceID:  req.SourceID,
		},
	})
	if err != nil {
		router.RespondError(c, err)
		return
	}
	if matches == nil {
		matches = []knowledge.RetrievedMatch{}
	}
	c.JSON(http.StatusOK, SearchResponse{Matches: matches})
}

// listSources handles GET /sources.
//
// @Summary List sources
// @Tags knowledge
// @Produce json
// @Success 200 {object} knowledgerouter.SourceListResponse "Sources, newest first"
// @Router /sources [get]
func listSources(c *gin.Context) {
	state := getState(c)
	if state == nil {
		return
	}
	list, err := state.ListSources.Execute(c.Request.Context())
	if err != nil {
		router.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, SourceListResponse{Sources: list})
}

// getSource handles GET /sources/{source_id}.
//
// @Summary Get a source
// @Description Retrieve a source, including its ingestion status.
// @Tags knowledge
// @Produce json
// @Param source_id path string true "Source ID"
// @Success 200 {object} knowledge.Source "Source"
// @Failure 404 {object} router.ProblemDocument "Source not found"
// @Router /sources/{source_id} [get]
func getSource(c *gin.Context) {
	state := getState(c)
	if state == nil {
		return
	}
	id := router.GetURLParam(c, "source_id")
	if id == "" {
		return
	}
	src, err := state.GetSource.Execute(c.Request.Context(), id)
	if err != nil {
		router.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, src)
}

// deleteSource handles DELETE /sources/{source_id}.
//
// @Summary Delete a source
// @Description Delete every chunk of the source, then the source itself.
// @Tags knowledge
// @Param source_id path string true "Source ID"
// @Success 204 "Source deleted"
// @Failure 404 {object} router.ProblemDocument "Source not found"
// @Failure 409 {object} router.ProblemDocument "Source is being ingested"
// @Failure 503 {object} router.ProblemDocument "Vector store unavailable"
// @Router /sources/{source_id} [delete]
func deleteSource(c *gin.Context) {
	state := getState(c)
	if state == nil {
		return
	}
	id := router.GetURLParam(c, "source_id")
	if id == "" {
		return
	}
	if err := state.DeleteSource.Execute(c.Request.Context(), id); err != nil {
		router.RespondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// syncRecords handles POST /sync.
//
// @Summary Sync database records
// @Description Ingest every row of the configured table as its own source.
// @Tags knowledge
// @Accept json
// @Produce json
// @Param payload body knowledgerouter.SyncRequest false "Table override"
// @Success 200 {object} knowledgerouter.SyncResponse "Sync summary"
// @Failure 400 {object} router.ProblemDocument "Invalid table"
// @Failure 503 {object} router.ProblemDocument "No records database configured"
// @Router /sync [post]
func syncRecords(c *gin.Context) {
	state := getState(c)
	if state == nil {
		return
	}
	var req SyncRequest
	if !router.BindJSON(c, &req) {
		return
	}
	if state.Sync == nil {
		router.RespondError(c, knowledge.Wrap(knowledge.ErrConfiguration, nil, "records sync is not configured"))
		return
	}
	out, err := state.Sync.Execute(c.Request.Context(), &uc.SyncInput{Table: req.Table})
	if err != nil {
		router.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, SyncResponse{
		Success: out.Failed == 0,
		Sources: out.Sources,
		Chunks:  out.Chunks,
		Failed:  out.Failed,
	})
}
