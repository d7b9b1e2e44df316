package search

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// pageCursor is the decoded pagination token: the last document id of the
// previous page and the page number being requested. The encoded form is
// opaque to callers and treated as untrusted input here.
type pageCursor struct {
	DocID string `json:"docId"`
	Page  int    `json:"page"`
}

func encodePageToken(docID string, page int) string {
	data, _ := json.Marshal(pageCursor{DocID: docID, Page: page})
	return base64.StdEncoding.EncodeToString(data)
}

// decodePageToken parses an untrusted token. Decode failure is an error
// for the caller to degrade on, never to crash on.
func decodePageToken(token string) (*pageCursor, error) {
	data, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return nil, fmt.Errorf("malformed page token: %w", err)
	}
	var cursor pageCursor
	if err := json.Unmarshal(data, &cursor); err != nil {
		return nil, fmt.Errorf("malformed page token payload: %w", err)
	}
	if cursor.Page < 1 || cursor.DocID == "" {
		return nil, fmt.Errorf("invalid page token contents")
	}
	return &cursor, nil
}
