package vfs

import (
	"encoding/base64"
	"time"

	"github.com/freitascorp/andromeda/pkg/extension"
	"github.com/freitascorp/andromeda/pkg/hostdata"
	"github.com/freitascorp/andromeda/pkg/hosterror"
	"github.com/freitascorp/andromeda/pkg/jsagent"
	"github.com/freitascorp/andromeda/pkg/resource"
)

// NewExtension declares the "fs" capability (spec §4.3): every VFS
// operation exposed to script, all synchronous, backed by one *FS
// stored in the agent's Host Data.
func NewExtension(path string) extension.Extension {
	return extension.Extension{
		Name:      "fs",
		Namespace: "fs",
		StorageInit: func(agent jsagent.Agent) error {
			fsys, err := Open(path)
			if err != nil {
				return err
			}
			hostdata.Set(agent.HostData(), fsys)
			return nil
		},
		Ops: []extension.ExtensionOp{
			{Name: "read_text_file", Handler: opReadTextFile, ArgCount: 1},
			{Name: "write_text_file", Handler: opWriteTextFile, ArgCount: 2},
			{Name: "create_file", Handler: opCreateFile, ArgCount: 1},
			{Name: "open_file", Handler: opOpenFile, ArgCount: 3},
			{Name: "close_handle", Handler: opCloseHandle, ArgCount: 1},
			{Name: "read_file", Handler: opReadFile, ArgCount: 1},
			{Name: "write_file", Handler: opWriteFile, ArgCount: 2},
			{Name: "mk_dir", Handler: opMkDir, ArgCount: 1},
			{Name: "mk_dir_all", Handler: opMkDirAll, ArgCount: 1},
			{Name: "read_dir", Handler: opReadDir, ArgCount: 1},
			{Name: "remove", Handler: opRemove, ArgCount: 1},
			{Name: "remove_all", Handler: opRemoveAll, ArgCount: 1},
			{Name: "rename", Handler: opRename, ArgCount: 2},
			{Name: "copy_file", Handler: opCopyFile, ArgCount: 2},
			{Name: "stat", Handler: opStat, ArgCount: 1},
			{Name: "lstat", Handler: opLStat, ArgCount: 1},
			{Name: "exists", Handler: opExists, ArgCount: 1},
			{Name: "truncate", Handler: opTruncate, ArgCount: 2},
			{Name: "chmod", Handler: opChmod, ArgCount: 2},
			{Name: "symlink", Handler: opSymlink, ArgCount: 2},
			{Name: "read_link", Handler: opReadLink, ArgCount: 1},
			{Name: "real_path", Handler: opRealPath, ArgCount: 1},
		},
	}
}

func store(agent jsagent.Agent) (*FS, error) {
	fsys, ok := hostdata.Get[*FS](agent.HostData())
	if !ok {
		return nil, hosterror.New(hosterror.KindInternalError, "fs extension storage not initialized")
	}
	return fsys, nil
}

func argString(args []jsagent.Value, i int) (string, bool) {
	if i >= len(args) {
		return "", false
	}
	s, ok := args[i].Export().(string)
	return s, ok
}

func argNumber(args []jsagent.Value, i int) (float64, bool) {
	if i >= len(args) {
		return 0, false
	}
	n, ok := args[i].Export().(float64)
	return n, ok
}

func argBool(args []jsagent.Value, i int) (bool, bool) {
	if i >= len(args) {
		return false, false
	}
	b, ok := args[i].Export().(bool)
	return b, ok
}

func toStatObject(agent jsagent.Agent, s Stat) jsagent.Value {
	return agent.NewObject(map[string]jsagent.Value{
		"type":        agent.NewString(string(s.Type)),
		"name":        agent.NewString(s.Name),
		"size":        agent.NewNumber(float64(s.Size)),
		"created_at":  agent.NewString(s.CreatedAt.Format(time.RFC3339Nano)),
		"modified_at": agent.NewString(s.ModifiedAt.Format(time.RFC3339Nano)),
		"accessed_at": agent.NewString(s.AccessedAt.Format(time.RFC3339Nano)),
		"mode":        agent.NewNumber(float64(s.Mode)),
	})
}

func opReadTextFile(agent jsagent.Agent, this jsagent.Value, args []jsagent.Value) (jsagent.Value, error) {
	fsys, err := store(agent)
	if err != nil {
		return nil, err
	}
	path, _ := argString(args, 0)
	text, err := fsys.ReadTextFile(path)
	if err != nil {
		return nil, err
	}
	return agent.NewString(text), nil
}

func opWriteTextFile(agent jsagent.Agent, this jsagent.Value, args []jsagent.Value) (jsagent.Value, error) {
	fsys, err := store(agent)
	if err != nil {
		return nil, err
	}
	path, _ := argString(args, 0)
	text, _ := argString(args, 1)
	if err := fsys.WriteTextFile(path, text); err != nil {
		return nil, err
	}
	return agent.Undefined(), nil
}

func opCreateFile(agent jsagent.Agent, this jsagent.Value, args []jsagent.Value) (jsagent.Value, error) {
	fsys, err := store(agent)
	if err != nil {
		return nil, err
	}
	path, _ := argString(args, 0)
	rid, err := fsys.CreateFile(path)
	if err != nil {
		return nil, err
	}
	return agent.NewNumber(float64(rid)), nil
}

func opOpenFile(agent jsagent.Agent, this jsagent.Value, args []jsagent.Value) (jsagent.Value, error) {
	fsys, err := store(agent)
	if err != nil {
		return nil, err
	}
	path, _ := argString(args, 0)
	writable, _ := argBool(args, 1)
	appendMode, _ := argBool(args, 2)
	rid, err := fsys.OpenFile(path, writable, appendMode)
	if err != nil {
		return nil, err
	}
	return agent.NewNumber(float64(rid)), nil
}

func opCloseHandle(agent jsagent.Agent, this jsagent.Value, args []jsagent.Value) (jsagent.Value, error) {
	fsys, err := store(agent)
	if err != nil {
		return nil, err
	}
	ridNum, _ := argNumber(args, 0)
	if err := fsys.CloseHandle(resource.Rid(ridNum)); err != nil {
		return nil, err
	}
	return agent.Undefined(), nil
}

func opReadFile(agent jsagent.Agent, this jsagent.Value, args []jsagent.Value) (jsagent.Value, error) {
	fsys, err := store(agent)
	if err != nil {
		return nil, err
	}
	path, _ := argString(args, 0)
	data, err := fsys.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return agent.NewString(base64.StdEncoding.EncodeToString(data)), nil
}

func opWriteFile(agent jsagent.Agent, this jsagent.Value, args []jsagent.Value) (jsagent.Value, error) {
	fsys, err := store(agent)
	if err != nil {
		return nil, err
	}
	path, _ := argString(args, 0)
	b64, _ := argString(args, 1)
	data, decErr := base64.StdEncoding.DecodeString(b64)
	if decErr != nil {
		return nil, hosterror.Wrap(hosterror.KindEncodingError, decErr, "decoding write_file content")
	}
	if err := fsys.WriteFile(path, data); err != nil {
		return nil, err
	}
	return agent.Undefined(), nil
}

func opMkDir(agent jsagent.Agent, this jsagent.Value, args []jsagent.Value) (jsagent.Value, error) {
	fsys, err := store(agent)
	if err != nil {
		return nil, err
	}
	path, _ := argString(args, 0)
	if err := fsys.MkDir(path); err != nil {
		return nil, err
	}
	return agent.Undefined(), nil
}

func opMkDirAll(agent jsagent.Agent, this jsagent.Value, args []jsagent.Value) (jsagent.Value, error) {
	fsys, err := store(agent)
	if err != nil {
		return nil, err
	}
	path, _ := argString(args, 0)
	if err := fsys.MkDirAll(path); err != nil {
		return nil, err
	}
	return agent.Undefined(), nil
}

func opReadDir(agent jsagent.Agent, this jsagent.Value, args []jsagent.Value) (jsagent.Value, error) {
	fsys, err := store(agent)
	if err != nil {
		return nil, err
	}
	path, _ := argString(args, 0)
	entries, err := fsys.ReadDir(path)
	if err != nil {
		return nil, err
	}
	out := make([]jsagent.Value, len(entries))
	for i, e := range entries {
		out[i] = agent.NewObject(map[string]jsagent.Value{
			"name": agent.NewString(e.Name),
			"type": agent.NewString(string(e.Type)),
		})
	}
	return agent.NewArray(out...), nil
}

func opRemove(agent jsagent.Agent, this jsagent.Value, args []jsagent.Value) (jsagent.Value, error) {
	fsys, err := store(agent)
	if err != nil {
		return nil, err
	}
	path, _ := argString(args, 0)
	if err := fsys.Remove(path); err != nil {
		return nil, err
	}
	return agent.Undefined(), nil
}

func opRemoveAll(agent jsagent.Agent, this jsagent.Value, args []jsagent.Value) (jsagent.Value, error) {
	fsys, err := store(agent)
	if err != nil {
		return nil, err
	}
	path, _ := argString(args, 0)
	if err := fsys.RemoveAll(path); err != nil {
		return nil, err
	}
	return agent.Undefined(), nil
}

func opRename(agent jsagent.Agent, this jsagent.Value, args []jsagent.Value) (jsagent.Value, error) {
	fsys, err := store(agent)
	if err != nil {
		return nil, err
	}
	src, _ := argString(args, 0)
	dst, _ := argString(args, 1)
	if err := fsys.Rename(src, dst); err != nil {
		return nil, err
	}
	return agent.Undefined(), nil
}

func opCopyFile(agent jsagent.Agent, this jsagent.Value, args []jsagent.Value) (jsagent.Value, error) {
	fsys, err := store(agent)
	if err != nil {
		return nil, err
	}
	src, _ := argString(args, 0)
	dst, _ := argString(args, 1)
	if err := fsys.CopyFile(src, dst); err != nil {
		return nil, err
	}
	return agent.Undefined(), nil
}

func opStat(agent jsagent.Agent, this jsagent.Value, args []jsagent.Value) (jsagent.Value, error) {
	fsys, err := store(agent)
	if err != nil {
		return nil, err
	}
	path, _ := argString(args, 0)
	s, err := fsys.Stat(path)
	if err != nil {
		return nil, err
	}
	return toStatObject(agent, s), nil
}

func opLStat(agent jsagent.Agent, this jsagent.Value, args []jsagent.Value) (jsagent.Value, error) {
	fsys, err := store(agent)
	if err != nil {
		return nil, err
	}
	path, _ := argString(args, 0)
	s, err := fsys.LStat(path)
	if err != nil {
		return nil, err
	}
	return toStatObject(agent, s), nil
}

func opExists(agent jsagent.Agent, this jsagent.Value, args []jsagent.Value) (jsagent.Value, error) {
	fsys, err := store(agent)
	if err != nil {
		return nil, err
	}
	path, _ := argString(args, 0)
	return agent.NewBool(fsys.Exists(path)), nil
}

func opTruncate(agent jsagent.Agent, this jsagent.Value, args []jsagent.Value) (jsagent.Value, error) {
	fsys, err := store(agent)
	if err != nil {
		return nil, err
	}
	path, _ := argString(args, 0)
	length, _ := argNumber(args, 1)
	if err := fsys.Truncate(path, int64(length)); err != nil {
		return nil, err
	}
	return agent.Undefined(), nil
}

func opChmod(agent jsagent.Agent, this jsagent.Value, args []jsagent.Value) (jsagent.Value, error) {
	fsys, err := store(agent)
	if err != nil {
		return nil, err
	}
	path, _ := argString(args, 0)
	mode, _ := argNumber(args, 1)
	if err := fsys.Chmod(path, uint32(mode)); err != nil {
		return nil, err
	}
	return agent.Undefined(), nil
}

func opSymlink(agent jsagent.Agent, this jsagent.Value, args []jsagent.Value) (jsagent.Value, error) {
	fsys, err := store(agent)
	if err != nil {
		return nil, err
	}
	target, _ := argString(args, 0)
	link, _ := argString(args, 1)
	if err := fsys.Symlink(target, link); err != nil {
		return nil, err
	}
	return agent.Undefined(), nil
}

func opReadLink(agent jsagent.Agent, this jsagent.Value, args []jsagent.Value) (jsagent.Value, error) {
	fsys, err := store(agent)
	if err != nil {
		return nil, err
	}
	path, _ := argString(args, 0)
	target, err := fsys.ReadLink(path)
	if err != nil {
		return nil, err
	}
	return agent.NewString(target), nil
}

func opRealPath(agent jsagent.Agent, this jsagent.Value, args []jsagent.Value) (jsagent.Value, error) {
	fsys, err := store(agent)
	if err != nil {
		return nil, err
	}
	path, _ := argString(args, 0)
	resolved, err := fsys.RealPath(path)
	if err != nil {
		return nil, err
	}
	return agent.NewString(resolved), nil
}
