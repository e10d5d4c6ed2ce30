// Copyright 2024 The Tabletserver Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package tablet

import (
	"time"

	"github.com/teratab/tabletserver/engine"
	"github.com/teratab/tabletserver/sstable"
)

// FamilyOptions is a column family's per-family schema knobs, per spec §3
// "Schema": "per-family options {max-versions, TTL, compression, Bloom
// filter on/off}."
type FamilyOptions struct {
	Name                  string
	MaxVersions           int
	TTL                   time.Duration
	Compression           sstable.CompressionType
	BloomFilterBitsPerKey bool
}

// LocalityGroup is a named set of column families co-stored in one LSM
// engine sharing the tablet's key range (spec §3 "Schema").
type LocalityGroup struct {
	Name       string
	Families   []FamilyOptions
	Strategy   engine.Strategy
}

// Schema enumerates a table's locality groups; it is mutable in place (spec
// §3 "The schema is mutable in place").
type Schema struct {
	TableName      string
	LocalityGroups []LocalityGroup
}

// localityGroupOptions reduces a LocalityGroup's family options down to the
// single engine.SchemaOptions its LSM engine reloads on ApplySchema; the
// group's widest MaxVersions/TTL across its families wins, matching the
// spirit of a locality group sharing one physical engine across several
// logical families.
func localityGroupOptions(lg LocalityGroup) engine.SchemaOptions {
	var opts engine.SchemaOptions
	opts.Strategy = lg.Strategy
	for _, f := range lg.Families {
		if f.MaxVersions > opts.MaxVersions {
			opts.MaxVersions = f.MaxVersions
		}
		if f.TTL > opts.TTL {
			opts.TTL = f.TTL
		}
		opts.Compression = f.Compression
		opts.BloomFilterBitsPerKey = opts.BloomFilterBitsPerKey || f.BloomFilterBitsPerKey
	}
	return opts
}

func (s Schema) localityGroupNames() []string {
	names := make([]string, len(s.LocalityGroups))
	for i, lg := range s.LocalityGroups {
		names[i] = lg.Name
	}
	return names
}
