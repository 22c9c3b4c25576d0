package planner

import (
	"path"
	"path/filepath"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/cuberecall/packsync/internal/checksum"
	"github.com/cuberecall/packsync/pkg/manifest"
)

// ComputeDiff compares the remote manifest against the local one. Entries
// missing locally or with a different digest are downloaded; local paths
// absent remotely are deleted. Both lists are sorted by path.
func ComputeDiff(remote manifest.Remote, local manifest.Local) *Diff {
	diff := &Diff{
		ToDownload:  []manifest.Entry{},
		ToDelete:    []string{},
		ServerCount: len(remote),
		LocalCount:  len(local),
	}

	for p, entry := range remote {
		localDigest, exists := local[p]
		if !exists || !checksum.Equal(localDigest, entry.Digest) {
			if entry.Path == "" {
				entry.Path = p
			}
			diff.ToDownload = append(diff.ToDownload, entry)
		}
	}

	for p := range local {
		if _, exists := remote[p]; !exists {
			diff.ToDelete = append(diff.ToDelete, p)
		}
	}

	sort.Slice(diff.ToDownload, func(i, j int) bool {
		return diff.ToDownload[i].Path < diff.ToDownload[j].Path
	})
	sort.Strings(diff.ToDelete)

	diff.UpToDate = len(diff.ToDownload) == 0 && len(diff.ToDelete) == 0
	return diff
}

func Phase1Compare(source []ItemMetadata, dest []ItemMetadata, deleteEnabled bool) Phase1Result {
	sourceMap := make(map[string]ItemMetadata)
	for _, item := range source {
		sourceMap[item.Path] = item
	}

	destMap := make(map[string]ItemMetadata)
	for _, item := range dest {
		destMap[item.Path] = item
	}

	result := Phase1Result{
		NewItems:     []ItemRef{},
		DeletedItems: []ItemRef{},
		SizeMismatch: []ItemRef{},
		NeedChecksum: []ItemRef{},
		Identical:    []ItemRef{},
	}

	for p, srcItem := range sourceMap {
		destItem, exists := destMap[p]
		if !exists {
			result.NewItems = append(result.NewItems, ItemRef{Path: p, Size: srcItem.Size})
			continue
		}

		ref := ItemRef{Path: p, Size: srcItem.Size}
		switch {
		case srcItem.Size != destItem.Size:
			result.SizeMismatch = append(result.SizeMismatch, ref)
		case destItem.Checksum != "" && srcItem.Checksum != "" && srcItem.Checksum == destItem.Checksum:
			result.Identical = append(result.Identical, ref)
		default:
			result.NeedChecksum = append(result.NeedChecksum, ref)
		}
	}

	if deleteEnabled {
		for p, destItem := range destMap {
			if _, exists := sourceMap[p]; !exists {
				result.DeletedItems = append(result.DeletedItems, ItemRef{Path: p, Size: destItem.Size})
			}
		}
	}

	sortPhase1Result(&result)
	return result
}

func Phase3GeneratePlan(phase1 Phase1Result, checksums []ChecksumData, localBase, bucket, prefix string) []Item {
	items := []Item{}

	upload := func(ref ItemRef, reason string) {
		items = append(items, Item{
			Action:    ActionUpload,
			LocalPath: filepath.Join(localBase, filepath.FromSlash(ref.Path)),
			Bucket:    bucket,
			Key:       path.Join(prefix, ref.Path),
			Size:      ref.Size,
			Reason:    reason,
		})
	}

	for _, ref := range phase1.NewItems {
		upload(ref, "new file")
	}

	for _, ref := range phase1.SizeMismatch {
		upload(ref, "size differs")
	}

	checksumMap := make(map[string]ChecksumData)
	for _, cs := range checksums {
		checksumMap[cs.ItemRef.Path] = cs
	}

	for _, ref := range phase1.NeedChecksum {
		if cs, exists := checksumMap[ref.Path]; exists && cs.SourceChecksum != cs.DestChecksum {
			upload(ref, "checksum differs")
		}
	}

	for _, ref := range phase1.DeletedItems {
		items = append(items, Item{
			Action: ActionDelete,
			Bucket: bucket,
			Key:    path.Join(prefix, ref.Path),
			Size:   ref.Size,
			Reason: "not in source",
		})
	}

	sort.Slice(items, func(i, j int) bool {
		if items[i].Action != items[j].Action {
			return items[i].Action < items[j].Action
		}
		return items[i].Key < items[j].Key
	})

	return items
}

func sortPhase1Result(result *Phase1Result) {
	sortItemRefs := func(refs []ItemRef) {
		sort.Slice(refs, func(i, j int) bool {
			return refs[i].Path < refs[j].Path
		})
	}

	sortItemRefs(result.NewItems)
	sortItemRefs(result.DeletedItems)
	sortItemRefs(result.SizeMismatch)
	sortItemRefs(result.NeedChecksum)
	sortItemRefs(result.Identical)
}

func IsExcluded(p string, patterns []string) (bool, error) {
	for _, pattern := range patterns {
		matched, err := doublestar.Match(pattern, p)
		if err != nil {
			return false, err
		}
		if matched {
			return true, nil
		}
	}
	return false, nil
}
