package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/cuberecall/packsync/pkg/executor"
	"github.com/cuberecall/packsync/pkg/planner"
	"github.com/goccy/go-json"
)

// PlanResult is the mirror plan written by --plan-json-file.
type PlanResult struct {
	Files   []PlanFile  `json:"files"`
	Summary PlanSummary `json:"summary"`
}

type PlanFile struct {
	Action string `json:"action"` // "create", "update", "delete"
	Source string `json:"source,omitempty"`
	Target string `json:"target"`
	Reason string `json:"reason"`
}

type PlanSummary struct {
	Create int `json:"create"`
	Update int `json:"update"`
	Delete int `json:"delete"`
}

// MirrorResult is what --result-json-file receives after execution.
type MirrorResult struct {
	Files   []ResultFile  `json:"files"`
	Errors  []ErrorFile   `json:"errors"`
	Summary ResultSummary `json:"summary"`
}

type ResultFile struct {
	Action string `json:"action"` // "created", "updated", "deleted"
	Source string `json:"source,omitempty"`
	Target string `json:"target"`
}

type ErrorFile struct {
	Action string `json:"action"`
	Source string `json:"source,omitempty"`
	Target string `json:"target"`
	Error  string `json:"error"`
}

type ResultSummary struct {
	Created int   `json:"created"`
	Updated int   `json:"updated"`
	Deleted int   `json:"deleted"`
	Failed  int   `json:"failed"`
	Bytes   int64 `json:"bytes"`
}

func buildPlanResult(items []planner.Item) PlanResult {
	plan := PlanResult{Files: []PlanFile{}}
	for _, item := range items {
		file := PlanFile{
			Action: actionName(item),
			Target: formatS3Path(item.Bucket, item.Key),
			Reason: item.Reason,
		}
		switch file.Action {
		case "create":
			plan.Summary.Create++
		case "update":
			plan.Summary.Update++
		case "delete":
			plan.Summary.Delete++
		}
		if item.Action == planner.ActionUpload {
			file.Source = absolutePath(item.LocalPath)
		}
		plan.Files = append(plan.Files, file)
	}
	return plan
}

func buildMirrorResult(results []executor.Result) MirrorResult {
	out := MirrorResult{Files: []ResultFile{}, Errors: []ErrorFile{}}
	for _, r := range results {
		action := actionName(r.Item)
		target := formatS3Path(r.Item.Bucket, r.Item.Key)
		var source string
		if r.Item.Action == planner.ActionUpload {
			source = absolutePath(r.Item.LocalPath)
		}

		if r.Error != nil {
			out.Errors = append(out.Errors, ErrorFile{Action: action, Source: source, Target: target, Error: r.Error.Error()})
			out.Summary.Failed++
			continue
		}

		switch action {
		case "create":
			out.Summary.Created++
			out.Summary.Bytes += r.Item.Size
		case "update":
			out.Summary.Updated++
			out.Summary.Bytes += r.Item.Size
		case "delete":
			out.Summary.Deleted++
		}
		out.Files = append(out.Files, ResultFile{Action: pastTense(action), Source: source, Target: target})
	}
	return out
}

func writeJSONFile(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	return nil
}

func actionName(item planner.Item) string {
	switch item.Action {
	case planner.ActionUpload:
		if item.Reason == "new file" {
			return "create"
		}
		return "update"
	case planner.ActionDelete:
		return "delete"
	case planner.ActionSkip:
		return "skip"
	default:
		return "unknown"
	}
}

func pastTense(action string) string {
	switch action {
	case "create":
		return "created"
	case "update":
		return "updated"
	case "delete":
		return "deleted"
	default:
		return action
	}
}

func absolutePath(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	return abs
}

func formatS3Path(bucket, key string) string {
	return fmt.Sprintf("s3://%s/%s", bucket, key)
}
