package rag_service

import "time"

// DocumentMetadata carries the caller-supplied description of a document
// through extraction, chunking and storage.
type DocumentMetadata struct {
	Title          string `json:"title"`
	Description    string `json:"description,omitempty"`
	ContentType    string `json:"content_type"`
	MimeType       string `json:"mime_type,omitempty"`
	SourceURL      string `json:"source_url,omitempty"`
	Filename       string `json:"filename,omitempty"`
	UserID         string `json:"user_id,omitempty"`
	PartnerID      string `json:"partner_id,omitempty"`
	Company        string `json:"company,omitempty"`
	Location       string `json:"location,omitempty"`
	Institution    string `json:"institution,omitempty"`
	ApplicationURL string `json:"application_url,omitempty"`
	IsPublished    bool   `json:"is_published,omitempty"`
}

type ProcessingStats struct {
	ExtractionTime float64 `json:"extraction_time"`
	EmbeddingTime  float64 `json:"embedding_time"`
	StorageTime    float64 `json:"storage_time"`
}

// ProcessResult is the outcome recorded on a job once a document has been
// through the pipeline.
type ProcessResult struct {
	Success       bool            `json:"success"`
	DocumentID    string          `json:"document_id,omitempty"`
	ResumeID      string          `json:"resume_id,omitempty"`
	ResourceID    int64           `json:"resource_id,omitempty"`
	JobListingID  int64           `json:"job_listing_id,omitempty"`
	ProgramID     int64           `json:"program_id,omitempty"`
	Title         string          `json:"title,omitempty"`
	TextLength    int             `json:"text_length,omitempty"`
	ChunksCreated int             `json:"chunks_created,omitempty"`
	Degraded      bool            `json:"degraded,omitempty"`
	Error         string          `json:"error,omitempty"`
	Stats         ProcessingStats `json:"processing_stats"`
	ProcessedAt   time.Time       `json:"processed_at"`
}

// SearchResult is one ranked row returned by the similarity stored functions.
type SearchResult struct {
	ID         string                 `json:"id,omitempty"`
	Content    string                 `json:"content"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
	Similarity float64                `json:"similarity"`
}

// ResumeInfo describes the latest stored resume for a user.
type ResumeInfo struct {
	HasResume  bool   `json:"has_resume"`
	ResumeID   string `json:"resume_id,omitempty"`
	Filename   string `json:"filename,omitempty"`
	TextLength int    `json:"text_length,omitempty"`
	UserID     string `json:"user_id,omitempty"`
}
