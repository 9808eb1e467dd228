package handler

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
)

// JobCursor points just past the last job of a page
type JobCursor struct {
	Seq   int64
	JobID string
}

func DecodeJobCursor(cursorStr string) (*JobCursor, error) {
	if cursorStr == "" {
		return nil, nil
	}

	decoded, err := base64.RawURLEncoding.DecodeString(cursorStr)
	if err != nil {
		return nil, err
	}

	decodedParts := strings.Split(string(decoded), "|")
	if len(decodedParts) != 2 || decodedParts[1] == "" {
		return nil, fmt.Errorf("invalid cursor format")
	}

	seq, err := strconv.ParseInt(decodedParts[0], 10, 64)
	if err != nil || seq < 0 {
		return nil, fmt.Errorf("invalid seq in cursor: %q", decodedParts[0])
	}

	return &JobCursor{Seq: seq, JobID: decodedParts[1]}, nil
}

func EncodeJobCursor(cursor *JobCursor) string {
	cs := fmt.Sprintf("%d|%s", cursor.Seq, cursor.JobID)
	return base64.RawURLEncoding.EncodeToString([]byte(cs))
}
