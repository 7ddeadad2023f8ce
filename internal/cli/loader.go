package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/token"

	"github.com/roach88/planopt/internal/alloc"
	"github.com/roach88/planopt/internal/compiler"
)

// LoadResult contains the plans compiled from a directory or file.
type LoadResult struct {
	Plans     []compiler.NamedPlan
	IDs       *alloc.PlanNodeIDAllocator
	Syms      *alloc.SymbolAllocator
	FileCount int // Number of CUE files found
}

// LoadError represents an error that occurred during plan loading.
type LoadError struct {
	Code    string
	Message string
	Pos     token.Pos // CUE position if available
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// LoadPlans compiles the plan program at path. A directory is loaded as one
// CUE package; a file is compiled on its own. Every plan shares the
// returned allocators, so node ids are unique across the program.
func LoadPlans(path string) (*LoadResult, error) {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("plan path not found: %s", path)}
	}
	if err != nil {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("error accessing plan path: %v", err)}
	}

	result := &LoadResult{
		IDs:       alloc.NewPlanNodeIDAllocator(),
		Syms:      alloc.NewSymbolAllocator(),
		FileCount: 1,
	}

	var loadErr error
	var v cue.Value
	if info.IsDir() {
		files, err := FindCUEFiles(path)
		if err != nil {
			return nil, &LoadError{Code: ErrCodeScanError, Message: fmt.Sprintf("error scanning directory: %v", err)}
		}
		if len(files) == 0 {
			return nil, &LoadError{Code: ErrCodeNoFiles, Message: fmt.Sprintf("no CUE files found in %s", path)}
		}
		result.FileCount = len(files)
		v, loadErr = compiler.LoadDir(path)
	} else {
		v, loadErr = compiler.LoadFile(path)
	}
	if loadErr != nil {
		return nil, convertCompileError(loadErr, ErrCodeLoadFailed)
	}

	plans, err := compiler.CompileProgram(v, result.IDs, result.Syms)
	if err != nil {
		return nil, convertCompileError(err, ErrCodeGeneric)
	}
	result.Plans = plans
	return result, nil
}

// FindCUEFiles returns the .cue files directly in dir. Subdirectories are
// separate CUE packages and are not loaded with dir.
func FindCUEFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if e.Type().IsRegular() && filepath.Ext(e.Name()) == ".cue" {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	return files, nil
}

// convertCompileError converts a compiler error to a LoadError with
// position info. Errors without a compiler field get fallback.
func convertCompileError(err error, fallback string) *LoadError {
	var compileErr *compiler.CompileError
	if errors.As(err, &compileErr) {
		return &LoadError{
			Code:    MapFieldToErrorCode(compileErr.Field),
			Message: fmt.Sprintf("%s: %s", compileErr.Field, compileErr.Message),
			Pos:     compileErr.Pos,
		}
	}
	var pathErr *fs.PathError
	if errors.As(err, &pathErr) {
		return &LoadError{Code: ErrCodeNotFound, Message: err.Error()}
	}
	return &LoadError{Code: fallback, Message: err.Error()}
}

// Error code constants - unified across all CLI commands.
const (
	ErrCodeGeneric     = "E001" // Generic/unknown error
	ErrCodeScanError   = "E002" // Directory scan error
	ErrCodeNoFiles     = "E003" // No CUE files found
	ErrCodeLoadFailed  = "E004" // CUE load failed
	ErrCodeNotFound    = "E005" // Path not found
	ErrCodeWriteFailed = "E007" // File write error
	ErrCodeStore       = "E008" // Trace store error

	// Plan program errors
	ErrCodeSymbols    = "E101" // Bad symbols block
	ErrCodeNoPlans    = "E102" // No plans defined
	ErrCodePlanNode   = "E103" // Bad plan node
	ErrCodeUnknownRun = "E104" // Run token not in the store
	ErrCodeSession    = "E105" // Bad session file or override
)

// MapFieldToErrorCode maps a compiler error field to an error code.
func MapFieldToErrorCode(field string) string {
	switch {
	case field == "symbols" || strings.HasPrefix(field, "symbols."):
		return ErrCodeSymbols
	case field == "plans":
		return ErrCodeNoPlans
	case strings.HasPrefix(field, "plans."):
		return ErrCodePlanNode
	default:
		return ErrCodeGeneric
	}
}
