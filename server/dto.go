package server

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type IndexHealthResponse struct {
	Healthy bool   `json:"healthy"`
	Backend string `json:"backend"`
}

type SchemaResponse struct {
	Backend string `json:"backend"`
	Ensured bool   `json:"ensured"`
}

type SuccessResponse struct {
	Success bool `json:"success"`
}
