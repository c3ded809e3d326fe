package runtime

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/anand-gl/jsoncanonicalizer"
	"golang.org/x/text/unicode/norm"

	"github.com/recordum/recordum/internal/common/apperrors"
	"github.com/recordum/recordum/pkg/types"
)

// UniqueHash computes the deterministic canonical hash of a unique field's
// value: strings are NFC-normalized, the value is rendered as canonical JSON,
// and the digest is hex-encoded SHA-256. Comparison is case-sensitive.
//
// The canonicalizer only accepts top-level objects, so the value is wrapped
// in a fixed {"v": ...} envelope; scalars and arrays hash through the same
// path as objects.
func UniqueHash(v types.Value) (string, apperrors.Error) {
	envelope := types.ObjectValue(map[string]types.Value{"v": normalizeStrings(v)})
	data, errJs := json.Marshal(envelope)
	if errJs != nil {
		return "", ErrRuntime.Err(errJs)
	}
	canonical, errC := jsoncanonicalizer.Transform(data)
	if errC != nil {
		return "", ErrRuntime.Err(errC)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

func normalizeStrings(v types.Value) types.Value {
	switch v.Kind() {
	case types.KindString:
		return types.StringValue(norm.NFC.String(v.String()))
	case types.KindArray:
		items := v.Array()
		out := make([]types.Value, len(items))
		for i, item := range items {
			out[i] = normalizeStrings(item)
		}
		return types.ArrayValue(out...)
	case types.KindObject:
		fields := v.Object()
		out := make(map[string]types.Value, len(fields))
		for k, f := range fields {
			out[norm.NFC.String(k)] = normalizeStrings(f)
		}
		return types.ObjectValue(out)
	}
	return v
}
