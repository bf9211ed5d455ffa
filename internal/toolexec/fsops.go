package toolexec

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/xzatoma/xzatoma/internal/filesearch"
	"github.com/xzatoma/xzatoma/internal/tool"
)

// maxListEntries bounds how many directory entries list_directory reports
// in one call, mirroring the grep tool's own result cap.
const maxListEntries = 500

// ListDirectoryArgs represents arguments for the list_directory tool.
type ListDirectoryArgs struct {
	Path string `json:"path,omitempty"`
}

// NewListDirectoryTool creates the list_directory tool definition (spec.md §4.3).
func NewListDirectoryTool() tool.Tool {
	return tool.Tool{
		Name:        "list_directory",
		Description: "Lists the immediate entries of a directory (files and subdirectories), confined to the working directory root.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"path": {"type": "string", "description": "Directory to list (default: working directory)."}
			}
		}`),
		Safety: tool.ReadOnly,
	}
}

// MakeListDirectoryHandler builds the list_directory tool's handler.
func MakeListDirectoryHandler() tool.Handler {
	return func(_ context.Context, arguments json.RawMessage) (*tool.Result, error) {
		var args ListDirectoryArgs
		if len(arguments) > 0 {
			if err := json.Unmarshal(arguments, &args); err != nil {
				return toolError("invalid arguments: %v", err), nil
			}
		}

		absPath, err := resolveSearchRoot(args.Path)
		if err != nil {
			return toolError("%v", err), nil
		}

		entries, err := os.ReadDir(absPath)
		if err != nil {
			return toolError("failed to list directory: %v", err), nil
		}
		sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

		var sb strings.Builder
		n := 0
		for _, e := range entries {
			if n >= maxListEntries {
				fmt.Fprintf(&sb, "... (%d more entries omitted)\n", len(entries)-n)
				break
			}
			kind := "file"
			if e.IsDir() {
				kind = "dir"
			}
			size := int64(0)
			if info, err := e.Info(); err == nil {
				size = info.Size()
			}
			fmt.Fprintf(&sb, "%s\t%s\t%d\n", kind, e.Name(), size)
			n++
		}

		if n == 0 {
			return toolText("directory is empty"), nil
		}
		return toolText(sb.String()), nil
	}
}

// FindPathArgs represents arguments for the find_path tool.
type FindPathArgs struct {
	Pattern    string `json:"pattern"`
	Path       string `json:"path,omitempty"`
	MaxResults int    `json:"max_results,omitempty"`
}

// NewFindPathTool creates the find_path tool definition (spec.md §4.3).
func NewFindPathTool() tool.Tool {
	return tool.Tool{
		Name:        "find_path",
		Description: "Finds files and directories whose path matches a regular expression, under a root directory. Respects .gitignore.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"pattern":     {"type": "string", "description": "Regular expression matched against each entry's base name or relative path."},
				"path":        {"type": "string", "description": "Directory to search (default: working directory)."},
				"max_results": {"type": "integer", "description": "Cap on returned matches (default/max: 200)."}
			},
			"required": ["pattern"]
		}`),
		Safety: tool.ReadOnly,
	}
}

// MakeFindPathHandler builds the find_path tool's handler.
func MakeFindPathHandler() tool.Handler {
	return func(ctx context.Context, arguments json.RawMessage) (*tool.Result, error) {
		var args FindPathArgs
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
			ContentSearch: false,
			MaxResults:    maxResults,
			RootDir:       root,
		})
		if err != nil {
			return toolError("search failed: %v", err), nil
		}
		if len(results) == 0 {
			return toolText("no matches found"), nil
		}

		var sb strings.Builder
		for _, r := range results {
			fmt.Fprintf(&sb, "%s\n", r.Path)
		}
		return toolText(sb.String()), nil
	}
}

// FileMetadataArgs represents arguments for the file_metadata tool.
type FileMetadataArgs struct {
	Path string `json:"path"`
}

// NewFileMetadataTool creates the file_metadata tool definition (spec.md §4.3).
func NewFileMetadataTool() tool.Tool {
	return tool.Tool{
		Name:        "file_metadata",
		Description: "Reports size, mode, modification time, and file type for a path, without reading its content.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"path": {"type": "string", "description": "Path to stat."}
			},
			"required": ["path"]
		}`),
		Safety: tool.ReadOnly,
	}
}

// MakeFileMetadataHandler builds the file_metadata tool's handler.
func MakeFileMetadataHandler() tool.Handler {
	return func(_ context.Context, arguments json.RawMessage) (*tool.Result, error) {
		var args FileMetadataArgs
		if err := json.Unmarshal(arguments, &args); err != nil {
			return toolError("invalid arguments: %v", err), nil
		}
		if args.Path == "" {
			return toolError("path is required"), nil
		}

		absPath, err := validatePath(args.Path)
		if err != nil {
			return toolError("%v", err), nil
		}

		info, err := os.Stat(absPath)
		if err != nil {
			return toolError("failed to stat path: %v", err), nil
		}

		kind := "file"
		if info.IsDir() {
			kind = "dir"
		}
		text := fmt.Sprintf("path=%s type=%s size=%d mode=%s modified=%s",
			args.Path, kind, info.Size(), info.Mode(), info.ModTime().Format("2006-01-02T15:04:05Z07:00"))
		return toolText(text), nil
	}
}

// CreateDirectoryArgs represents arguments for the create_directory tool.
type CreateDirectoryArgs struct {
	Path string `json:"path"`
}

// NewCreateDirectoryTool creates the create_directory tool definition (spec.md §4.3).
func NewCreateDirectoryTool() tool.Tool {
	return tool.Tool{
		Name:        "create_directory",
		Description: "Creates a directory (and any missing parents) under the working directory root.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"path": {"type": "string", "description": "Directory to create."}
			},
			"required": ["path"]
		}`),
		Safety: tool.Mutating,
	}
}

// MakeCreateDirectoryHandler builds the create_directory tool's handler.
func MakeCreateDirectoryHandler() tool.Handler {
	return func(_ context.Context, arguments json.RawMessage) (*tool.Result, error) {
		var args CreateDirectoryArgs
		if err := json.Unmarshal(arguments, &args); err != nil {
			return toolError("invalid arguments: %v", err), nil
		}
		if args.Path == "" {
			return toolError("path is required"), nil
		}

		absPath, err := validatePath(args.Path)
		if err != nil {
			return toolError("%v", err), nil
		}

		if err := os.MkdirAll(absPath, 0755); err != nil {
			return toolError("failed to create directory: %v", err), nil
		}
		return toolText(fmt.Sprintf("created directory %s", args.Path)), nil
	}
}

// DeletePathArgs represents arguments for the delete_path tool.
type DeletePathArgs struct {
	Path      string `json:"path"`
	Recursive bool   `json:"recursive,omitempty"`
}

// NewDeletePathTool creates the delete_path tool definition (spec.md §4.3).
func NewDeletePathTool() tool.Tool {
	return tool.Tool{
		Name:        "delete_path",
		Description: "Deletes a file, or a directory when recursive is true, confined to the working directory root.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"path":      {"type": "string", "description": "File or directory to delete."},
				"recursive": {"type": "boolean", "description": "Required to delete a non-empty directory. Default: false."}
			},
			"required": ["path"]
		}`),
		Safety: tool.Mutating,
	}
}

// MakeDeletePathHandler builds the delete_path tool's handler.
func MakeDeletePathHandler() tool.Handler {
	return func(_ context.Context, arguments json.RawMessage) (*tool.Result, error) {
		var args DeletePathArgs
		if err := json.Unmarshal(arguments, &args); err != nil {
			return toolError("invalid arguments: %v", err), nil
		}
		if args.Path == "" {
			return toolError("path is required"), nil
		}

		absPath, err := validatePath(args.Path)
		if err != nil {
			return toolError("%v", err), nil
		}

		info, err := os.Stat(absPath)
		if err != nil {
			return toolError("failed to stat path: %v", err), nil
		}

		if info.IsDir() {
			if !args.Recursive {
				entries, _ := os.ReadDir(absPath)
				if len(entries) > 0 {
					return toolError("%s is a non-empty directory; set recursive=true to delete it", args.Path), nil
				}
			}
			if err := os.RemoveAll(absPath); err != nil {
				return toolError("failed to delete directory: %v", err), nil
			}
		} else if err := os.Remove(absPath); err != nil {
			return toolError("failed to delete file: %v", err), nil
		}

		return toolText(fmt.Sprintf("deleted %s", args.Path)), nil
	}
}

// CopyPathArgs represents arguments for the copy_path tool.
type CopyPathArgs struct {
	Source      string `json:"source"`
	Destination string `json:"destination"`
}

// NewCopyPathTool creates the copy_path tool definition (spec.md §4.3).
func NewCopyPathTool() tool.Tool {
	return tool.Tool{
		Name:        "copy_path",
		Description: "Copies a file or directory tree to a new location, both confined to the working directory root. Fails if destination already exists.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"source":      {"type": "string", "description": "Path to copy from."},
				"destination": {"type": "string", "description": "Path to copy to."}
			},
			"required": ["source", "destination"]
		}`),
		Safety: tool.Mutating,
	}
}

// MakeCopyPathHandler builds the copy_path tool's handler.
func MakeCopyPathHandler() tool.Handler {
	return func(_ context.Context, arguments json.RawMessage) (*tool.Result, error) {
		var args CopyPathArgs
		if err := json.Unmarshal(arguments, &args); err != nil {
			return toolError("invalid arguments: %v", err), nil
		}
		if args.Source == "" || args.Destination == "" {
			return toolError("source and destination are required"), nil
		}

		srcAbs, err := validatePath(args.Source)
		if err != nil {
			return toolError("source: %v", err), nil
		}
		dstAbs, err := validatePath(args.Destination)
		if err != nil {
			return toolError("destination: %v", err), nil
		}
		if _, err := os.Stat(dstAbs); err == nil {
			return toolError("destination %s already exists", args.Destination), nil
		}

		info, err := os.Stat(srcAbs)
		if err != nil {
			return toolError("failed to stat source: %v", err), nil
		}

		if info.IsDir() {
			if err := copyTree(srcAbs, dstAbs); err != nil {
				return toolError("failed to copy directory: %v", err), nil
			}
		} else if err := copyFile(srcAbs, dstAbs, info.Mode()); err != nil {
			return toolError("failed to copy file: %v", err), nil
		}

		return toolText(fmt.Sprintf("copied %s to %s", args.Source, args.Destination)), nil
	}
}

// MovePathArgs represents arguments for the move_path tool.
type MovePathArgs struct {
	Source      string `json:"source"`
	Destination string `json:"destination"`
}

// NewMovePathTool creates the move_path tool definition (spec.md §4.3).
func NewMovePathTool() tool.Tool {
	return tool.Tool{
		Name:        "move_path",
		Description: "Renames or moves a file or directory, both confined to the working directory root. Fails if destination already exists.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"source":      {"type": "string", "description": "Path to move from."},
				"destination": {"type": "string", "description": "Path to move to."}
			},
			"required": ["source", "destination"]
		}`),
		Safety: tool.Mutating,
	}
}

// MakeMovePathHandler builds the move_path tool's handler.
func MakeMovePathHandler() tool.Handler {
	return func(_ context.Context, arguments json.RawMessage) (*tool.Result, error) {
		var args MovePathArgs
		if err := json.Unmarshal(arguments, &args); err != nil {
			return toolError("invalid arguments: %v", err), nil
		}
		if args.Source == "" || args.Destination == "" {
			return toolError("source and destination are required"), nil
		}

		srcAbs, err := validatePath(args.Source)
		if err != nil {
			return toolError("source: %v", err), nil
		}
		dstAbs, err := validatePath(args.Destination)
		if err != nil {
			return toolError("destination: %v", err), nil
		}
		if _, err := os.Stat(dstAbs); err == nil {
			return toolError("destination %s already exists", args.Destination), nil
		}

		if err := os.MkdirAll(filepath.Dir(dstAbs), 0755); err != nil {
			return toolError("failed to create destination parent: %v", err), nil
		}
		if err := os.Rename(srcAbs, dstAbs); err != nil {
			return toolError("failed to move: %v", err), nil
		}

		return toolText(fmt.Sprintf("moved %s to %s", args.Source, args.Destination)), nil
	}
}

// copyFile copies a single file's contents and mode.
func copyFile(src, dst string, mode os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}

// copyTree recursively copies a directory, preserving relative structure.
func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		if d.IsDir() {
			return os.MkdirAll(target, 0755)
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		return copyFile(path, target, info.Mode())
	})
}
