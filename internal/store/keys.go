// Verdant - Offline Plant Analysis Cache and Model Manager
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/verdant

package store

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	prefixAnalysis       = "analysis:"
	prefixAnalysisFP     = "analysis_fp:"
	prefixAnalysisTime   = "analysis_time:"
	prefixAnalysisMode   = "analysis_mode:"
	prefixPattern        = "pattern:"
	prefixPatternSeen    = "pattern_seen:"
	prefixSuggestion     = "suggestion:"
	prefixSuggestionTime = "suggestion_time:"
	prefixModelState     = "model_state:"

	keySchemaVersion = "meta:schema_version"
	keySequence      = "meta:sequence"
)

// tsWidth is the width of a zero-padded UnixNano timestamp.
const tsWidth = 20

// encodeTime renders t so that byte order equals time order.
// Times before the epoch clamp to zero.
func encodeTime(t time.Time) string {
	n := t.UnixNano()
	if n < 0 {
		n = 0
	}
	return fmt.Sprintf("%0*d", tsWidth, n)
}

// orderToken is the sortable part of analysis index keys: the creation time
// followed by a store-wide sequence number, so two records created in the
// same nanosecond still have a stable insertion order.
func orderToken(createdAt time.Time, seq uint64) string {
	return encodeTime(createdAt) + fmt.Sprintf("%016x", seq)
}

func analysisKey(id string) []byte {
	return []byte(prefixAnalysis + id)
}

func fingerprintPrefix(fp, mode string) []byte {
	return []byte(prefixAnalysisFP + fp + ":" + mode + ":")
}

func fingerprintIndexKey(fp, mode, token, id string) []byte {
	return []byte(prefixAnalysisFP + fp + ":" + mode + ":" + token + ":" + id)
}

func timeIndexKey(token, id string) []byte {
	return []byte(prefixAnalysisTime + token + ":" + id)
}

func modePrefix(mode string) []byte {
	return []byte(prefixAnalysisMode + mode + ":")
}

func modeIndexKey(mode, token, id string) []byte {
	return []byte(prefixAnalysisMode + mode + ":" + token + ":" + id)
}

func patternKey(id string) []byte {
	return []byte(prefixPattern + id)
}

func patternSeenKey(lastSeen time.Time, id string) []byte {
	return []byte(prefixPatternSeen + encodeTime(lastSeen) + ":" + id)
}

func suggestionKey(id string) []byte {
	return []byte(prefixSuggestion + id)
}

func suggestionTimeKey(createdAt time.Time, id string) []byte {
	return []byte(prefixSuggestionTime + encodeTime(createdAt) + ":" + id)
}

func modelStateKey(id string) []byte {
	return []byte(prefixModelState + id)
}

// trailingID returns everything after the last ':' of an index key.
// Analysis ids are UUIDs and never contain ':'.
func trailingID(key []byte) string {
	s := string(key)
	return s[strings.LastIndexByte(s, ':')+1:]
}

// splitTimeIndex parses "<prefix><ts>:<id>" keys whose id may contain ':'.
func splitTimeIndex(key []byte, prefix string) (time.Time, string, bool) {
	s := string(key)
	if len(s) < len(prefix)+tsWidth+1 {
		return time.Time{}, "", false
	}
	rest := s[len(prefix):]
	n, err := strconv.ParseInt(rest[:tsWidth], 10, 64)
	if err != nil || rest[tsWidth] != ':' {
		return time.Time{}, "", false
	}
	return time.Unix(0, n).UTC(), rest[tsWidth+1:], true
}

// prefixEnd returns the smallest key greater than every key with prefix p,
// used to seek reverse iterators.
func prefixEnd(p []byte) []byte {
	end := make([]byte, len(p)+1)
	copy(end, p)
	end[len(p)] = 0xFF
	return end
}

func copyKey(k []byte) []byte {
	c := make([]byte, len(k))
	copy(c, k)
	return c
}
