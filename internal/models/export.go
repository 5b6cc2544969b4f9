package models

import "time"

// RosterExport describes a rendered roster file and its signed download link.
type RosterExport struct {
	ID          string    `json:"id"`
	SessionID   string    `json:"session_id"`
	Format      string    `json:"format"`
	FileName    string    `json:"file_name"`
	Rows        int       `json:"rows"`
	DownloadURL string    `json:"download_url"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// ExportDownload is a resolved signed link ready to stream.
type ExportDownload struct {
	FileName    string
	ContentType string
	Path        string
}
