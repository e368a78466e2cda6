package router

// ProblemDocument models an RFC 7807 error envelope for API responses.
type ProblemDocument struct {
	Type     string `json:"type,omitempty"     example:"about:blank"`
	Title    string `json:"title"              example:"Unprocessable Entity"`
	Status   int    `json:"status"             example:"422"`
	Detail   string `json:"detail,omitempty"   example:"insufficient content: extracted text is too short"`
	Instance string `json:"instance,omitempty" example:"/api/v0/ingest"`
	Code     string `json:"code,omitempty"     example:"insufficient_content"`
	Success  bool   `json:"success"            example:"false"`
	Message  string `json:"message"            example:"insufficient content: extracted text is too short"`
}
