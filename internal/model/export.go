package model

import "time"

// CatalogImport is the top-level JSON structure of a catalog file.
type CatalogImport struct {
	Papers []PaperImport `json:"papers"`
}

// PaperImport describes one paper and its questions in a catalog file.
type PaperImport struct {
	Name        string           `json:"name"`
	Description string           `json:"description"`
	Duration    int              `json:"duration"`
	Publish     bool             `json:"publish"`
	Questions   []QuestionImport `json:"questions"`
}

// QuestionImport is a question plus its point value on the enclosing paper.
type QuestionImport struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Multi    bool   `json:"multi"`
	Answer   string `json:"answer"`
	Analysis string `json:"analysis"`
	Score    int    `json:"score"`
}

// RankingExport is the JSON structure written by the ranking export command.
type RankingExport struct {
	GeneratedAt time.Time      `json:"generated_at"`
	PaperID     *int64         `json:"paper_id,omitempty"`
	Limit       int            `json:"limit,omitempty"`
	Entries     []RankingEntry `json:"entries"`
}
