package toolexec

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/xzatoma/xzatoma/internal/filesearch"
	"github.com/xzatoma/xzatoma/internal/tool"
)

const (
	// maxGrepResults bounds the result count spec.md §4.3 requires grep to cap.
	maxGrepResults = 200
	// maxGrepLineLen bounds each matched line spec.md §4.3 requires grep to cap.
	maxGrepLineLen = 300
)

// GrepArgs represents arguments for the grep tool.
type GrepArgs struct {
	Pattern    string `json:"pattern"`
	Path       string `json:"path,omitempty"`
	Include    string `json:"include,omitempty"`
	Exclude    string `json:"exclude,omitempty"`
	MaxResults int    `json:"max_results,omitempty"`
}

// NewGrepTool creates the grep tool definition (spec.md §4.3).
func NewGrepTool() tool.Tool {
	return tool.Tool{
		Name:        "grep",
		Description: `Search file contents under a directory for a regular expression pattern. Respects .gitignore. Results are capped in count and per-line length.`,
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"pattern":     {"type": "string", "description": "Regular expression to search for."},
				"path":        {"type": "string", "description": "Directory to search (default: working directory)."},
				"include":     {"type": "string", "description": "Only match files whose base name matches this glob."},
				"exclude":     {"type": "string", "description": "Skip files whose base name matches this glob."},
				"max_results": {"type": "integer", "description": "Cap on returned matches (default/max: 200)."}
			},
			"required": ["pattern"]
		}`),
		Safety: tool.ReadOnly,
	}
}

// MakeGrepHandler builds the grep tool's handler.
func MakeGrepHandler() tool.Handler {
	return func(ctx context.Context, arguments json.RawMessage) (*tool.Result, error) {
		var args GrepArgs
		if err := json.Unmarshal(arguments, &args); err != nil {
			return toolError("invalid arguments: %v", err), nil
		}
		if args.Pattern == "" {
			return toolError("pattern is required"), nil
		}

		root, err := resolveSearchRoot(args.Path)
		if err != nil {
			return toolError("%v", err), nil
		}

		maxResults := args.MaxResults
		if maxResults <= 0 || maxResults > maxGrepResults {
			maxResults = maxGrepResults
		}

		searcher, err := filesearch.NewSearcher(root)
		if err != nil {
			return toolError("failed to initialize search: %v", err), nil
		}

		results, err := searcher.Search(ctx, filesearch.Options{
			Pattern:       args.Pattern,
			ContentSearch: true,
			MaxResults:    maxResults,
			RootDir:       root,
		})
		if err != nil {
			return toolError("search failed: %v", err), nil
		}

		results = filterGlobs(results, args.Include, args.Exclude)
		if len(results) == 0 {
			return toolText("no matches found"), nil
		}

		var sb strings.Builder
		for _, r := range results {
			line := r.Content
			if len(line) > maxGrepLineLen {
				line = line[:maxGrepLineLen] + "...(truncated)"
			}
			fmt.Fprintf(&sb, "%s:%d: %s\n", r.Path, r.Line, line)
		}
		return toolText(sb.String()), nil
	}
}

func resolveSearchRoot(path string) (string, error) {
	if path == "" {
		return os.Getwd()
	}
	return validatePath(path)
}

func filterGlobs(results []filesearch.Result, include, exclude string) []filesearch.Result {
	if include == "" && exclude == "" {
		return results
	}
	out := make([]filesearch.Result, 0, len(results))
	for _, r := range results {
		if include != "" {
			if ok, _ := filepath.Match(include, filepath.Base(r.Path)); !ok {
				continue
			}
		}
		if exclude != "" {
			if ok, _ := filepath.Match(exclude, filepath.Base(r.Path)); ok {
				continue
			}
		}
		out = append(out, r)
	}
	return out
}
