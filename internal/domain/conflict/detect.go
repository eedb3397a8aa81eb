package conflict

import (
	"sort"
	"strings"
	"time"

	"github.com/ehr/ehrsync/internal/domain/resource"
)

const versionField = "meta.versionId"

// DetectPayloads compares two decoded resource bodies field by field and
// returns every divergence found. Objects recurse, arrays compare as whole
// values, scalars compare by equality. The meta namespace is skipped except
// for the version token, which is compared up front and reported as a
// version_mismatch when both sides carry one and they differ.
//
// Swapping local and remote yields the same field set with local/remote
// values flipped; structural changes become deletion conflicts and vice
// versa.
func DetectPayloads(local, remote resource.Payload, localModified, remoteModified time.Time) []Entry {
	var entries []Entry

	localVersion := local.Version()
	remoteVersion := remote.Version()
	if localVersion != "" && remoteVersion != "" && localVersion != remoteVersion {
		entries = append(entries, Entry{
			Field:          versionField,
			LocalValue:     localVersion,
			RemoteValue:    remoteVersion,
			LocalModified:  localModified,
			RemoteModified: remoteModified,
			Kind:           VersionMismatch,
		})
	}

	lv := FromInterface(map[string]interface{}(local))
	rv := FromInterface(map[string]interface{}(remote))
	entries = append(entries, compareObjects(lv, rv, "", localModified, remoteModified)...)
	return entries
}

func compareObjects(local, remote *Value, prefix string, localModified, remoteModified time.Time) []Entry {
	var entries []Entry

	keys := map[string]struct{}{}
	for _, k := range local.Keys() {
		keys[k] = struct{}{}
	}
	for _, k := range remote.Keys() {
		keys[k] = struct{}{}
	}
	ordered := make([]string, 0, len(keys))
	for k := range keys {
		ordered = append(ordered, k)
	}
	sort.Strings(ordered)

	for _, key := range ordered {
		path := key
		if prefix != "" {
			path = prefix + "." + key
		}
		if skipPath(path) {
			continue
		}

		lv := local.Field(key)
		rv := remote.Field(key)

		switch {
		case lv == nil && rv != nil:
			entries = append(entries, Entry{
				Field:          path,
				LocalValue:     nil,
				RemoteValue:    rv.Interface(),
				LocalModified:  localModified,
				RemoteModified: remoteModified,
				Kind:           StructuralChange,
			})
		case lv != nil && rv == nil:
			entries = append(entries, Entry{
				Field:          path,
				LocalValue:     lv.Interface(),
				RemoteValue:    nil,
				LocalModified:  localModified,
				RemoteModified: remoteModified,
				Kind:           DeletionConflict,
			})
		case lv.Kind() == KindObject && rv.Kind() == KindObject:
			entries = append(entries, compareObjects(lv, rv, path, localModified, remoteModified)...)
		case !Equal(lv, rv):
			entries = append(entries, Entry{
				Field:          path,
				LocalValue:     lv.Interface(),
				RemoteValue:    rv.Interface(),
				LocalModified:  localModified,
				RemoteModified: remoteModified,
				Kind:           ValueMismatch,
			})
		}
	}
	return entries
}

// skipPath reports whether a field path belongs to the metadata namespace.
// The version token is handled separately by DetectPayloads.
func skipPath(path string) bool {
	return path == "meta" || strings.HasPrefix(path, "meta.")
}
