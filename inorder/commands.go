package inorder

import "github.com/vkngwrapper/dispatch/cmds"

// WaitCommands blocks the engine until every partition slot reaches value
func (e *ExecInfo) WaitCommands(value uint64) []cmds.Command {
	waits := make([]cmds.Command, 0, e.PartitionCount())
	for p := 0; p < e.PartitionCount(); p++ {
		waits = append(waits, &cmds.SemaphoreWait{
			Address: e.DeviceAddress() + uint64(p*SlotSize),
			Value:   value,
			Compare: cmds.CompareGreaterOrEqual,
		})
	}
	return waits
}

// SignalCommands writes value to every partition slot, and to the host mirror when there is one
func (e *ExecInfo) SignalCommands(value uint64) []cmds.Command {
	var signals []cmds.Command
	for p := 0; p < e.PartitionCount(); p++ {
		signals = append(signals, &cmds.StoreDataImm{Address: e.DeviceAddress() + uint64(p*SlotSize), Value: value})
	}
	if e.hostAlloc != nil {
		for p := 0; p < e.PartitionCount(); p++ {
			signals = append(signals, &cmds.StoreDataImm{Address: e.HostAddress() + uint64(p*SlotSize), Value: value})
		}
	}
	return signals
}
