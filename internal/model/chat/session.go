package chat

import "time"

// Turn is one answered question in a session transcript.
type Turn struct {
	Question string    `json:"question"`
	Answer   string    `json:"answer"`
	AskedAt  time.Time `json:"askedAt"`
}

// Upload is a single file handed to ingestion.
type Upload struct {
	Filename string
	Data     []byte
}

// IngestResult reports how much of an upload batch was absorbed.
type IngestResult struct {
	Status    string `json:"status"`
	Documents int    `json:"documents"`
	Chunks    int    `json:"chunks"`
}
