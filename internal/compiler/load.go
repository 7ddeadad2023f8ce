package compiler

import (
	"fmt"
	"os"
	"path/filepath"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"
)

// LoadDir builds the CUE package rooted at dir into a single value.
// All .cue files in the directory are unified, so symbols and plans may be
// split across files.
func LoadDir(dir string) (cue.Value, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return cue.Value{}, fmt.Errorf("stat %s: %w", dir, err)
	}
	if !info.IsDir() {
		return cue.Value{}, fmt.Errorf("%s is not a directory", dir)
	}

	insts := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(insts) == 0 {
		return cue.Value{}, fmt.Errorf("no CUE instances found in %s", dir)
	}
	if err := insts[0].Err; err != nil {
		return cue.Value{}, formatCUEError(err)
	}

	v := cuecontext.New().BuildInstance(insts[0])
	if err := v.Err(); err != nil {
		return cue.Value{}, formatCUEError(err)
	}
	return v, nil
}

// LoadFile compiles a single .cue file.
func LoadFile(path string) (cue.Value, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return cue.Value{}, fmt.Errorf("read %s: %w", path, err)
	}
	return LoadString(filepath.Base(path), string(data))
}

// LoadString compiles CUE source text; name is used in error positions.
func LoadString(name, src string) (cue.Value, error) {
	v := cuecontext.New().CompileString(src, cue.Filename(name))
	if err := v.Err(); err != nil {
		return cue.Value{}, formatCUEError(err)
	}
	return v, nil
}
