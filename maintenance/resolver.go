// SPDX-License-Identifier: ISC
// Copyright (c) 2020-2026 Ecovault Authors
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package maintenance

import (
	"encoding/json"
	"os"

	"github.com/ecovault/ecovaultd/holder"
)

// FileResolver - identity directory loaded from a JSON file
//
// The file maps holder identifiers to display names and is exported
// from the host system; identifiers missing from it are orphans.
type FileResolver struct {
	names map[holder.ID]string
}

// NewFileResolver - load a known-holders file
func NewFileResolver(fileName string) (*FileResolver, error) {
	data, err := os.ReadFile(fileName)
	if nil != err {
		return nil, err
	}
	raw := map[string]string{}
	if err := json.Unmarshal(data, &raw); nil != err {
		return nil, err
	}
	names := make(map[holder.ID]string, len(raw))
	for text, name := range raw {
		id, err := holder.FromString(text)
		if nil != err {
			continue // malformed entries cannot orphan anybody
		}
		names[id] = name
	}
	return &FileResolver{names: names}, nil
}

// Resolve - look up a holder's display name
func (r *FileResolver) Resolve(id holder.ID) (string, bool) {
	name, ok := r.names[id]
	return name, ok
}
