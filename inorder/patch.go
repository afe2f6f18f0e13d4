package inorder

import (
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/dispatch/cmds"
	"github.com/vkngwrapper/dispatch/container"
)

// PatchKind is the command a patch record rewrites, which decides where its immediate operand lives
type PatchKind uint8

const (
	PatchSemaphoreWait PatchKind = iota
	PatchLoadRegisterImm
	PatchStoreDataImm
	PatchWalkerPostSync
	PatchPipeControlPostSync
)

var patchKindMapping = map[PatchKind]string{
	PatchSemaphoreWait:       "SemaphoreWait",
	PatchLoadRegisterImm:     "LoadRegisterImm",
	PatchStoreDataImm:        "StoreDataImm",
	PatchWalkerPostSync:      "WalkerPostSync",
	PatchPipeControlPostSync: "PipeControlPostSync",
}

func (k PatchKind) String() string {
	str, ok := patchKindMapping[k]
	if !ok {
		return fmt.Sprintf("PatchKind(%d)", uint8(k))
	}
	return str
}

// operand returns the offset of the 64-bit immediate within the command
func (k PatchKind) operand() (int, error) {
	switch k {
	case PatchSemaphoreWait:
		return cmds.SemaphoreWaitValueOffset, nil
	case PatchLoadRegisterImm:
		return cmds.LoadRegisterImmValueOffset, nil
	case PatchStoreDataImm:
		return cmds.StoreDataImmValueOffset, nil
	case PatchWalkerPostSync:
		return cmds.ComputeWalkerPostSyncValueOffset, nil
	case PatchPipeControlPostSync:
		return cmds.PipeControlValueOffset, nil
	}
	return 0, errors.Errorf("unknown patch kind %d", uint8(k))
}

// Arena gives access to recorded command bytes by location. *container.Container is an Arena.
type Arena interface {
	Bytes(loc container.Location, n int) ([]byte, error)
}

// PatchCmd records a command whose immediate counter operand must be rewritten once the value of an
// execution is known. It refers to the command by location, so it stays valid as the command buffer
// chain grows.
type PatchCmd struct {
	Location         container.Location
	Kind             PatchKind
	BaseCounterValue uint64

	info         *ExecInfo
	generation   uint64
	skipPatching bool
}

// NewPatchCmd binds a patch record to the counter it waits on or signals
func NewPatchCmd(info *ExecInfo, loc container.Location, kind PatchKind, baseCounterValue uint64) PatchCmd {
	return PatchCmd{
		Location:         loc,
		Kind:             kind,
		BaseCounterValue: baseCounterValue,
		info:             info,
		generation:       info.Generation(),
	}
}

func (p *PatchCmd) ExecInfo() *ExecInfo {
	return p.info
}

// SetSkipPatching suppresses rewriting, for records whose recorded value is already final
func (p *PatchCmd) SetSkipPatching(skip bool) {
	p.skipPatching = skip
}

func (p *PatchCmd) SkipPatching() bool {
	return p.skipPatching
}

// Stale returns true if the counter was reset after the record was made
func (p *PatchCmd) Stale() bool {
	return p.info.Generation() != p.generation
}

// Patch writes BaseCounterValue + appendValue into the recorded command. It returns false without
// touching the arena when patching is suppressed or the record is stale.
func (p *PatchCmd) Patch(arena Arena, appendValue uint64) (bool, error) {
	if p.skipPatching || p.Stale() {
		return false, nil
	}

	offset, err := p.Kind.operand()
	if err != nil {
		return false, err
	}

	data, err := arena.Bytes(p.Location, offset+8)
	if err != nil {
		return false, errors.Wrapf(err, "could not patch %s", p.Kind)
	}
	cmds.PatchU64(data, offset, p.BaseCounterValue+appendValue)
	return true, nil
}

// PatchList is the side table of patch records a command list keeps
type PatchList []PatchCmd

// Apply patches every record bound to info, or every record when info is nil
func (l PatchList) Apply(arena Arena, info *ExecInfo, appendValue uint64) (int, error) {
	patched := 0
	for i := range l {
		if info != nil && l[i].info != info {
			continue
		}
		ok, err := l[i].Patch(arena, appendValue)
		if err != nil {
			return patched, err
		}
		if ok {
			patched++
		}
	}
	return patched, nil
}
