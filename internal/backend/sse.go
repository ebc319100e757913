// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package backend

import (
	"bufio"
	"bytes"
	"io"
)

// sseReader reads Server-Sent Events from an HTTP response body.
//
// Only "data:" lines carry payloads in the streaming completion protocol;
// comment lines, event names, and blank keep-alive lines are skipped.
type sseReader struct {
	reader *bufio.Reader
}

func newSSEReader(r io.Reader) *sseReader {
	return &sseReader{reader: bufio.NewReader(r)}
}

// ReadEvent returns the payload of the next data line. io.EOF signals the end
// of the stream.
func (r *sseReader) ReadEvent() ([]byte, error) {
	for {
		line, err := r.reader.ReadBytes('\n')
		if err != nil {
			if err == io.EOF && len(bytes.TrimSpace(line)) > 0 {
				// Final line without a trailing newline.
				if data, ok := sseData(line); ok {
					return data, nil
				}
			}
			return nil, err
		}

		if data, ok := sseData(line); ok {
			return data, nil
		}
	}
}

// sseData extracts the payload from a "data:" line.
func sseData(line []byte) ([]byte, bool) {
	line = bytes.TrimRight(line, "\r\n")
	if !bytes.HasPrefix(line, []byte("data:")) {
		return nil, false
	}
	data := bytes.TrimSpace(line[len("data:"):])
	if len(data) == 0 {
		return nil, false
	}
	return data, true
}
