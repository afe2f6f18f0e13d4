package memory

import (
	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/dispatch/internal/utils"
	"github.com/vkngwrapper/dispatch/memutils"
	"golang.org/x/exp/slog"
)

// CreateFlags indicate specific manager behaviors to activate or deactivate
type CreateFlags int32

var managerCreateFlagsMapping = common.NewFlagStringMapping[CreateFlags]()

func (f CreateFlags) Register(str string) {
	managerCreateFlagsMapping.Register(f, str)
}
func (f CreateFlags) String() string {
	return managerCreateFlagsMapping.FlagsToString(f)
}

const (
	// ManagerCreateExternallySynchronized ensures that this manager will not be synchronized internally.
	// The consumer must guarantee it is used from only one thread at a time.
	ManagerCreateExternallySynchronized CreateFlags = 1 << iota
)

func init() {
	ManagerCreateExternallySynchronized.Register("ManagerCreateExternallySynchronized")
}

const (
	// defaultBlockSize is the block size used when CreateOptions.PreferredBlockSize is zero. It is 4MB.
	defaultBlockSize int = 4 * 1024 * 1024

	// DeviceAddressBase is the first GPU virtual address handed out for device-local memory
	DeviceAddressBase uint64 = 0x0000_0001_0000_0000
	// SystemAddressBase is the first GPU virtual address handed out for system memory
	SystemAddressBase uint64 = 0x0000_7f00_0000_0000
)

// CreateOptions contains optional settings when creating a manager
type CreateOptions struct {
	// Flags indicates specific manager behaviors to activate or deactivate
	Flags CreateFlags
	// PreferredBlockSize is the size of shared blocks. Allocations larger than half of it receive
	// a dedicated block.
	PreferredBlockSize int
	// DeviceHeapSizeLimit caps the bytes of device-local memory. Zero means no limit. Exceeding it
	// makes Allocate return core1_0.VKErrorOutOfDeviceMemory.
	DeviceHeapSizeLimit int
	// SystemHeapSizeLimit caps the bytes of system memory. Zero means no limit.
	SystemHeapSizeLimit int
}

// New creates a new Manager
func New(logger *slog.Logger, options CreateOptions) (*Manager, error) {
	if logger == nil {
		return nil, errors.New("a logger is required")
	}

	useMutex := options.Flags&ManagerCreateExternallySynchronized == 0

	blockSize := options.PreferredBlockSize
	if blockSize == 0 {
		blockSize = defaultBlockSize
	}
	if err := memutils.CheckPow2(blockSize, "PreferredBlockSize"); err != nil {
		return nil, err
	}
	if options.DeviceHeapSizeLimit < 0 || options.SystemHeapSizeLimit < 0 {
		return nil, errors.New("heap size limits may not be negative")
	}

	manager := &Manager{
		useMutex:  useMutex,
		logger:    logger,
		live:      swiss.NewMap[uint64, *GraphicsAllocation](64),
		liveMutex: utils.OptionalMutex{UseMutex: useMutex},
	}

	manager.blockLists[PoolDevice] = &memoryBlockList{}
	manager.blockLists[PoolDevice].Init(useMutex, logger, PoolDevice, DeviceAddressBase, blockSize, options.DeviceHeapSizeLimit)
	manager.blockLists[PoolSystem] = &memoryBlockList{}
	manager.blockLists[PoolSystem].Init(useMutex, logger, PoolSystem, SystemAddressBase, blockSize, options.SystemHeapSizeLimit)

	return manager, nil
}
