// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package secret

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
)

// maxFileSize bounds ReadFromPath. Seeds and identities are well under it.
const maxFileSize = 4096

// ReadFromPath loads a single secret value from path, or from stdin
// when path is "-". Surrounding whitespace is dropped and every
// intermediate copy is wiped.
func ReadFromPath(path string) (*Buffer, error) {
	var source io.Reader = os.Stdin
	if path != "-" {
		file, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer file.Close()
		source = file
	}
	return readFrom(source)
}

func readFrom(source io.Reader) (*Buffer, error) {
	raw := make([]byte, maxFileSize+1)
	defer Wipe(raw)
	n, err := io.ReadFull(source, raw)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("secret: reading: %w", err)
	}
	if n > maxFileSize {
		return nil, fmt.Errorf("secret: value exceeds %d bytes", maxFileSize)
	}
	value := bytes.TrimSpace(raw[:n])
	if len(value) == 0 {
		return nil, errors.New("secret: value is empty")
	}
	return NewFromBytes(value)
}
