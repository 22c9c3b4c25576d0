package planner

import (
	"reflect"
	"testing"

	"github.com/cuberecall/packsync/pkg/manifest"
)

func TestComputeDiff(t *testing.T) {
	tests := []struct {
		name         string
		remote       manifest.Remote
		local        manifest.Local
		wantDownload []string
		wantDelete   []string
		wantUpToDate bool
	}{
		{
			name: "download missing and delete extra",
			remote: manifest.Remote{
				"a": {Path: "a", Digest: "h1"},
				"b": {Path: "b", Digest: "h2"},
			},
			local:        manifest.Local{"a": "h1", "c": "h3"},
			wantDownload: []string{"b"},
			wantDelete:   []string{"c"},
		},
		{
			name:         "identical sets are up to date",
			remote:       manifest.Remote{"mods/a.jar": {Path: "mods/a.jar", Digest: "abc"}},
			local:        manifest.Local{"mods/a.jar": "abc"},
			wantDownload: []string{},
			wantDelete:   []string{},
			wantUpToDate: true,
		},
		{
			name:         "digest mismatch downloads",
			remote:       manifest.Remote{"mods/a.jar": {Path: "mods/a.jar", Digest: "new"}},
			local:        manifest.Local{"mods/a.jar": "old"},
			wantDownload: []string{"mods/a.jar"},
			wantDelete:   []string{},
		},
		{
			name:         "digest comparison ignores case",
			remote:       manifest.Remote{"mods/a.jar": {Path: "mods/a.jar", Digest: "abcdef"}},
			local:        manifest.Local{"mods/a.jar": "ABCDEF"},
			wantDownload: []string{},
			wantDelete:   []string{},
			wantUpToDate: true,
		},
		{
			name:         "empty remote deletes everything",
			remote:       manifest.Remote{},
			local:        manifest.Local{"z.jar": "1", "b.jar": "2"},
			wantDownload: []string{},
			wantDelete:   []string{"b.jar", "z.jar"},
		},
		{
			name: "entry path is filled from key",
			remote: manifest.Remote{
				"mods/z.jar": {Digest: "1"},
				"mods/a.jar": {Digest: "2"},
			},
			local:        manifest.Local{},
			wantDownload: []string{"mods/a.jar", "mods/z.jar"},
			wantDelete:   []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			diff := ComputeDiff(tt.remote, tt.local)

			gotDownload := []string{}
			for _, e := range diff.ToDownload {
				gotDownload = append(gotDownload, e.Path)
			}
			if !reflect.DeepEqual(gotDownload, tt.wantDownload) {
				t.Errorf("ToDownload = %v, want %v", gotDownload, tt.wantDownload)
			}
			if !reflect.DeepEqual(diff.ToDelete, tt.wantDelete) {
				t.Errorf("ToDelete = %v, want %v", diff.ToDelete, tt.wantDelete)
			}
			if diff.UpToDate != tt.wantUpToDate {
				t.Errorf("UpToDate = %v, want %v", diff.UpToDate, tt.wantUpToDate)
			}
			if diff.ServerCount != len(tt.remote) || diff.LocalCount != len(tt.local) {
				t.Errorf("counts = (%d, %d), want (%d, %d)", diff.ServerCount, diff.LocalCount, len(tt.remote), len(tt.local))
			}
		})
	}
}

func TestDiffTotals(t *testing.T) {
	diff := &Diff{
		ToDownload: []manifest.Entry{{Path: "a", Size: 10}, {Path: "b", Size: 32}},
		ToDelete:   []string{"c"},
	}
	if got := diff.Total(); got != 3 {
		t.Errorf("Total() = %d, want 3", got)
	}
	if got := diff.DownloadSize(); got != 42 {
		t.Errorf("DownloadSize() = %d, want 42", got)
	}
}

func TestPhase1Compare(t *testing.T) {
	tests := []struct {
		name          string
		source        []ItemMetadata
		dest          []ItemMetadata
		deleteEnabled bool
		want          Phase1Result
	}{
		{
			name: "all new files",
			source: []ItemMetadata{
				{Path: "mods/a.jar", Size: 100},
				{Path: "mods/b.jar", Size: 200},
			},
			dest:          []ItemMetadata{},
			deleteEnabled: false,
			want: Phase1Result{
				NewItems: []ItemRef{
					{Path: "mods/a.jar", Size: 100},
					{Path: "mods/b.jar", Size: 200},
				},
				DeletedItems: []ItemRef{},
				SizeMismatch: []ItemRef{},
				NeedChecksum: []ItemRef{},
				Identical:    []ItemRef{},
			},
		},
		{
			name:   "all deleted files with delete enabled",
			source: []ItemMetadata{},
			dest: []ItemMetadata{
				{Path: "mods/a.jar", Size: 100},
				{Path: "mods/b.jar", Size: 200},
			},
			deleteEnabled: true,
			want: Phase1Result{
				NewItems: []ItemRef{},
				DeletedItems: []ItemRef{
					{Path: "mods/a.jar", Size: 100},
					{Path: "mods/b.jar", Size: 200},
				},
				SizeMismatch: []ItemRef{},
				NeedChecksum: []ItemRef{},
				Identical:    []ItemRef{},
			},
		},
		{
			name:   "deleted files ignored when delete disabled",
			source: []ItemMetadata{},
			dest: []ItemMetadata{
				{Path: "mods/a.jar", Size: 100},
			},
			deleteEnabled: false,
			want: Phase1Result{
				NewItems:     []ItemRef{},
				DeletedItems: []ItemRef{},
				SizeMismatch: []ItemRef{},
				NeedChecksum: []ItemRef{},
				Identical:    []ItemRef{},
			},
		},
		{
			name:          "size mismatch",
			source:        []ItemMetadata{{Path: "mods/a.jar", Size: 100}},
			dest:          []ItemMetadata{{Path: "mods/a.jar", Size: 200}},
			deleteEnabled: false,
			want: Phase1Result{
				NewItems:     []ItemRef{},
				DeletedItems: []ItemRef{},
				SizeMismatch: []ItemRef{{Path: "mods/a.jar", Size: 100}},
				NeedChecksum: []ItemRef{},
				Identical:    []ItemRef{},
			},
		},
		{
			name:          "need checksum verification",
			source:        []ItemMetadata{{Path: "mods/a.jar", Size: 100}},
			dest:          []ItemMetadata{{Path: "mods/a.jar", Size: 100}},
			deleteEnabled: false,
			want: Phase1Result{
				NewItems:     []ItemRef{},
				DeletedItems: []ItemRef{},
				SizeMismatch: []ItemRef{},
				NeedChecksum: []ItemRef{{Path: "mods/a.jar", Size: 100}},
				Identical:    []ItemRef{},
			},
		},
		{
			name:          "identical files with matching checksums",
			source:        []ItemMetadata{{Path: "mods/a.jar", Size: 100, Checksum: "abc123"}},
			dest:          []ItemMetadata{{Path: "mods/a.jar", Size: 100, Checksum: "abc123"}},
			deleteEnabled: false,
			want: Phase1Result{
				NewItems:     []ItemRef{},
				DeletedItems: []ItemRef{},
				SizeMismatch: []ItemRef{},
				NeedChecksum: []ItemRef{},
				Identical:    []ItemRef{{Path: "mods/a.jar", Size: 100}},
			},
		},
		{
			name: "mixed scenario",
			source: []ItemMetadata{
				{Path: "new.jar", Size: 100},
				{Path: "same.jar", Size: 200, Checksum: "xyz"},
				{Path: "diff-size.jar", Size: 300},
				{Path: "need-check.jar", Size: 400},
			},
			dest: []ItemMetadata{
				{Path: "same.jar", Size: 200, Checksum: "xyz"},
				{Path: "diff-size.jar", Size: 350},
				{Path: "need-check.jar", Size: 400},
				{Path: "deleted.jar", Size: 500},
			},
			deleteEnabled: true,
			want: Phase1Result{
				NewItems:     []ItemRef{{Path: "new.jar", Size: 100}},
				DeletedItems: []ItemRef{{Path: "deleted.jar", Size: 500}},
				SizeMismatch: []ItemRef{{Path: "diff-size.jar", Size: 300}},
				NeedChecksum: []ItemRef{{Path: "need-check.jar", Size: 400}},
				Identical:    []ItemRef{{Path: "same.jar", Size: 200}},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Phase1Compare(tt.source, tt.dest, tt.deleteEnabled)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Phase1Compare() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestPhase3GeneratePlan(t *testing.T) {
	tests := []struct {
		name      string
		phase1    Phase1Result
		checksums []ChecksumData
		prefix    string
		want      []Item
	}{
		{
			name: "new files only",
			phase1: Phase1Result{
				NewItems: []ItemRef{
					{Path: "a.jar", Size: 100},
					{Path: "b.jar", Size: 200},
				},
			},
			prefix: "packs",
			want: []Item{
				{Action: ActionUpload, LocalPath: "/local/a.jar", Bucket: "mirror", Key: "packs/a.jar", Size: 100, Reason: "new file"},
				{Action: ActionUpload, LocalPath: "/local/b.jar", Bucket: "mirror", Key: "packs/b.jar", Size: 200, Reason: "new file"},
			},
		},
		{
			name: "size mismatch files",
			phase1: Phase1Result{
				SizeMismatch: []ItemRef{{Path: "a.jar", Size: 100}},
			},
			prefix: "packs",
			want: []Item{
				{Action: ActionUpload, LocalPath: "/local/a.jar", Bucket: "mirror", Key: "packs/a.jar", Size: 100, Reason: "size differs"},
			},
		},
		{
			name: "checksum differs",
			phase1: Phase1Result{
				NeedChecksum: []ItemRef{{Path: "a.jar", Size: 100}},
			},
			checksums: []ChecksumData{
				{ItemRef: ItemRef{Path: "a.jar", Size: 100}, SourceChecksum: "abc123", DestChecksum: "def456"},
			},
			prefix: "packs",
			want: []Item{
				{Action: ActionUpload, LocalPath: "/local/a.jar", Bucket: "mirror", Key: "packs/a.jar", Size: 100, Reason: "checksum differs"},
			},
		},
		{
			name: "checksum matches - no action",
			phase1: Phase1Result{
				NeedChecksum: []ItemRef{{Path: "a.jar", Size: 100}},
			},
			checksums: []ChecksumData{
				{ItemRef: ItemRef{Path: "a.jar", Size: 100}, SourceChecksum: "abc123", DestChecksum: "abc123"},
			},
			prefix: "packs",
			want:   []Item{},
		},
		{
			name: "deleted files",
			phase1: Phase1Result{
				DeletedItems: []ItemRef{{Path: "a.jar", Size: 100}},
			},
			prefix: "packs",
			want: []Item{
				{Action: ActionDelete, Bucket: "mirror", Key: "packs/a.jar", Size: 100, Reason: "not in source"},
			},
		},
		{
			name: "mixed actions with sorting",
			phase1: Phase1Result{
				NewItems: []ItemRef{
					{Path: "b.jar", Size: 100},
					{Path: "a.jar", Size: 200},
				},
				DeletedItems: []ItemRef{{Path: "z.jar", Size: 300}},
			},
			prefix: "",
			want: []Item{
				{Action: ActionDelete, Bucket: "mirror", Key: "z.jar", Size: 300, Reason: "not in source"},
				{Action: ActionUpload, LocalPath: "/local/a.jar", Bucket: "mirror", Key: "a.jar", Size: 200, Reason: "new file"},
				{Action: ActionUpload, LocalPath: "/local/b.jar", Bucket: "mirror", Key: "b.jar", Size: 100, Reason: "new file"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Phase3GeneratePlan(tt.phase1, tt.checksums, "/local", "mirror", tt.prefix)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Phase3GeneratePlan() = %+v, want %+v", got, tt.want)
			}
		})
	}
}
