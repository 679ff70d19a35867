package dto

type CreateIdentityRequest struct {
	ID        *int64    `json:"id,omitempty"`
	Name      string    `json:"name" binding:"required"`
	Embedding []float32 `json:"embedding" binding:"required"`
}

type IdentityResponse struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	Dim       int    `json:"embedding_dim"`
	CreatedAt string `json:"created_at,omitempty"`
	UpdatedAt string `json:"updated_at,omitempty"`
}

type IdentityListResponse struct {
	Identities []IdentityResponse `json:"identities"`
	Total      int                `json:"total"`
	Version    uint64             `json:"roster_version"`
}

// EnrollResponse is returned by the multipart enrollment endpoint.
type EnrollResponse struct {
	Identity   IdentityResponse `json:"identity"`
	Samples    int              `json:"samples"`
	SourceKeys []string         `json:"source_keys"`
}

type MatchRequest struct {
	Embedding []float32 `json:"embedding" binding:"required"`
	Tolerance *float64  `json:"tolerance,omitempty"`
}

type MatchResponse struct {
	Matched    bool    `json:"matched"`
	IdentityID int64   `json:"identity_id,omitempty"`
	Name       string  `json:"name,omitempty"`
	Distance   float64 `json:"distance"`
}
